package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// ListSchedules returns every schedule of the session's tenant.
func (c *Client) ListSchedules(ctx context.Context) ([]Schedule, error) {
	var out []Schedule
	if err := c.doJSON(ctx, http.MethodGet, "/schedules", nil, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// GetSchedule returns one schedule. A missing schedule yields ErrNotFound.
func (c *Client) GetSchedule(ctx context.Context, id int64) (*Schedule, error) {
	var out Schedule
	if err := c.doJSON(ctx, http.MethodGet, schedulePath(id), nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// CreateSchedule creates a schedule and returns it with its assigned id.
func (c *Client) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*Schedule, error) {
	var out Schedule
	if err := c.doJSON(ctx, http.MethodPost, "/schedules", req, &out); err != nil {
		return nil, err
	}

	c.logger.Info("schedule created", slog.Int64("id", out.ID))

	return &out, nil
}

// UpdateSchedule patches the non-nil fields of upd onto schedule id.
func (c *Client) UpdateSchedule(ctx context.Context, id int64, upd ScheduleUpdate) error {
	return c.doJSON(ctx, http.MethodPatch, schedulePath(id), upd, nil)
}

// DeleteSchedule deletes schedule id.
func (c *Client) DeleteSchedule(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, schedulePath(id), nil, nil)
}

// ScheduleBoard returns the tenant's schedule board (GET /scheduleList).
// The endpoint must answer with a JSON array.
func (c *Client) ScheduleBoard(ctx context.Context) ([]Schedule, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/scheduleList", nil, &raw); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		c.logger.Error("invalid schedule board format, expected an array")
		return nil, fmt.Errorf("%w: schedule board: expected an array", ErrInvalidResponse)
	}

	var out []Schedule
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("%w: schedule board: %w", ErrInvalidResponse, err)
	}

	return out, nil
}

func schedulePath(id int64) string {
	return "/schedules/" + strconv.FormatInt(id, 10)
}

// doJSON sends in (if non-nil) as JSON and decodes the response into out
// (if non-nil). The body is built per call, so a retried operation gets a
// fresh reader.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("scheduling: encoding request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrInvalidResponse, method, path, err)
	}

	return nil
}
