package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// HTTPAvailabilityStore reads windows from the remote availability service:
//
//	GET {base}/doctors/{doctor}/availability
//	{"2024-01-10": [{"start_time": "09:00", "end_time": "12:00"}], ...}
type HTTPAvailabilityStore struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAvailabilityStore(baseURL string, client *http.Client) *HTTPAvailabilityStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAvailabilityStore{baseURL: baseURL, client: client}
}

type windowPayload struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (s *HTTPAvailabilityStore) Windows(ctx context.Context, doctorID, date string) ([]Window, error) {
	endpoint := fmt.Sprintf("%s/doctors/%s/availability", s.baseURL, url.PathEscape(doctorID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build availability request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call availability service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("availability service returned status %d", resp.StatusCode)
	}

	var byDate map[string][]windowPayload
	if err := json.NewDecoder(resp.Body).Decode(&byDate); err != nil {
		return nil, fmt.Errorf("decode availability: %w", err)
	}

	raw := byDate[date]
	windows := make([]Window, 0, len(raw))
	for _, p := range raw {
		w, err := NewWindow(p.StartTime, p.EndTime)
		if err != nil {
			return nil, fmt.Errorf("doctor %s date %s: %w", doctorID, date, err)
		}
		windows = append(windows, w)
	}

	return windows, nil
}
