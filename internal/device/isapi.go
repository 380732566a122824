package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"dormitory-access-backend/internal/model"
)

// ISAPIConfig configures the HTTP client used for every controller.
type ISAPIConfig struct {
	Scheme        string
	Timeout       time.Duration
	FaceLibraryID string
	ValidUntil    string
}

// ISAPIClient talks the ISAPI JSON dialect spoken by the face-recognition
// access controllers. Devices are contacted one after another, never in
// parallel, and each device authenticates with its own digest credentials.
type ISAPIClient struct {
	http   *resty.Client
	cfg    ISAPIConfig
	logger *zap.Logger
}

// NewISAPIClient builds a client; it keeps no per-device state.
func NewISAPIClient(cfg ISAPIConfig, logger *zap.Logger) *ISAPIClient {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &ISAPIClient{http: client, cfg: cfg, logger: logger}
}

type userValid struct {
	Enable    bool   `json:"enable"`
	BeginTime string `json:"beginTime"`
	EndTime   string `json:"endTime"`
}

type userInfo struct {
	EmployeeNo string     `json:"employeeNo"`
	Name       string     `json:"name,omitempty"`
	UserType   string     `json:"userType,omitempty"`
	Valid      *userValid `json:"Valid,omitempty"`
}

type userInfoRequest struct {
	UserInfo userInfo `json:"UserInfo"`
}

type employeeNo struct {
	EmployeeNo string `json:"employeeNo"`
}

type userDeleteRequest struct {
	UserInfoDelCond struct {
		EmployeeNoList []employeeNo `json:"EmployeeNoList"`
	} `json:"UserInfoDelCond"`
}

type faceDataRecord struct {
	FaceLibType string `json:"faceLibType"`
	FDID        string `json:"FDID"`
	FPID        string `json:"FPID"`
}

// statusResponse is the envelope every ISAPI JSON endpoint answers with.
type statusResponse struct {
	StatusCode   int    `json:"statusCode"`
	StatusString string `json:"statusString"`
	SubStatus    string `json:"subStatusCode"`
	ErrorMsg     string `json:"errorMsg"`
}

func (s statusResponse) err() error {
	if s.StatusCode == 0 || s.StatusCode == 1 {
		return nil
	}
	msg := s.ErrorMsg
	if msg == "" {
		msg = s.SubStatus
	}
	return fmt.Errorf("%s (%s)", s.StatusString, msg)
}

// Enroll registers the resident and, when photoPath is set, uploads the face.
func (c *ISAPIClient) Enroll(ctx context.Context, targets []model.Device, residentID, fullName, photoPath string) Outcome {
	return c.each(ctx, "enroll", targets, residentID, func(dev model.Device) error {
		body := userInfoRequest{UserInfo: userInfo{
			EmployeeNo: residentID,
			Name:       fullName,
			UserType:   "normal",
			Valid:      c.valid(true),
		}}
		if err := c.send(ctx, dev, "POST", "/ISAPI/AccessControl/UserInfo/Record?format=json", body); err != nil {
			return err
		}
		if photoPath == "" {
			return nil
		}
		return c.uploadFace(ctx, dev, residentID, photoPath)
	})
}

// Revoke removes the resident from every target.
func (c *ISAPIClient) Revoke(ctx context.Context, targets []model.Device, residentID string) Outcome {
	return c.each(ctx, "revoke", targets, residentID, func(dev model.Device) error {
		var body userDeleteRequest
		body.UserInfoDelCond.EmployeeNoList = []employeeNo{{EmployeeNo: residentID}}
		return c.send(ctx, dev, "PUT", "/ISAPI/AccessControl/UserInfo/Delete?format=json", body)
	})
}

// Open re-enables a blocked resident.
func (c *ISAPIClient) Open(ctx context.Context, targets []model.Device, residentID string) Outcome {
	return c.each(ctx, "open", targets, residentID, func(dev model.Device) error {
		body := userInfoRequest{UserInfo: userInfo{EmployeeNo: residentID, Valid: c.valid(true)}}
		return c.send(ctx, dev, "PUT", "/ISAPI/AccessControl/UserInfo/Modify?format=json", body)
	})
}

// Block disables the resident without deleting it.
func (c *ISAPIClient) Block(ctx context.Context, targets []model.Device, residentID string) Outcome {
	return c.each(ctx, "block", targets, residentID, func(dev model.Device) error {
		body := userInfoRequest{UserInfo: userInfo{EmployeeNo: residentID, Valid: c.valid(false)}}
		return c.send(ctx, dev, "PUT", "/ISAPI/AccessControl/UserInfo/Modify?format=json", body)
	})
}

func (c *ISAPIClient) valid(enable bool) *userValid {
	return &userValid{Enable: enable, BeginTime: "2000-01-01T00:00:00", EndTime: c.cfg.ValidUntil}
}

// each applies fn to every device sequentially and joins the failures.
func (c *ISAPIClient) each(ctx context.Context, op string, targets []model.Device, residentID string, fn func(model.Device) error) Outcome {
	if len(targets) == 0 {
		return Failure("no devices registered for this dormitory")
	}
	var failures []string
	for _, dev := range targets {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", dev.Address, err))
			continue
		}
		if err := fn(dev); err != nil {
			c.logger.Warn("device operation failed",
				zap.String("op", op),
				zap.Int64("device_id", dev.ID),
				zap.String("address", dev.Address),
				zap.String("resident_id", residentID),
				zap.Error(err),
			)
			failures = append(failures, fmt.Sprintf("%s: %v", dev.Address, err))
			continue
		}
		c.logger.Debug("device operation applied",
			zap.String("op", op),
			zap.Int64("device_id", dev.ID),
			zap.String("resident_id", residentID),
		)
	}
	return combine(failures)
}

func (c *ISAPIClient) request(ctx context.Context, dev model.Device) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetDigestAuth(dev.Username, dev.Password)
}

func (c *ISAPIClient) url(dev model.Device, path string) string {
	return fmt.Sprintf("%s://%s%s", c.cfg.Scheme, dev.Address, path)
}

func (c *ISAPIClient) send(ctx context.Context, dev model.Device, method, path string, body any) error {
	resp, err := c.request(ctx, dev).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Execute(method, c.url(dev, path))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeStatus(resp)
}

func (c *ISAPIClient) uploadFace(ctx context.Context, dev model.Device, residentID, photoPath string) error {
	record, err := json.Marshal(faceDataRecord{FaceLibType: "blackFD", FDID: c.cfg.FaceLibraryID, FPID: residentID})
	if err != nil {
		return fmt.Errorf("encode face record: %w", err)
	}
	resp, err := c.request(ctx, dev).
		SetMultipartField("FaceDataRecord", "", "application/json", bytes.NewReader(record)).
		SetFile("img", photoPath).
		Post(c.url(dev, "/ISAPI/Intelligent/FDLib/FaceDataRecord?format=json"))
	if err != nil {
		return fmt.Errorf("face upload failed: %w", err)
	}
	return decodeStatus(resp)
}

func decodeStatus(resp *resty.Response) error {
	var status statusResponse
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &status); err != nil && resp.IsSuccess() {
			return fmt.Errorf("unreadable device response: %w", err)
		}
	}
	if resp.IsError() {
		if err := status.err(); err != nil {
			return fmt.Errorf("HTTP %d: %w", resp.StatusCode(), err)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode())
	}
	return status.err()
}
