package provider

// http.go implements RosterProvider and ContextDirectory over the campus
// REST services.  Responses are plain JSON; all calls honor the request
// context for cancellation and share one pooled http.Client.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPRoster talks to the roster service.
type HTTPRoster struct {
	base   string
	client *http.Client
}

// NewHTTPRoster builds a roster client for the given base URL.
func NewHTTPRoster(base string) *HTTPRoster {
	return &HTTPRoster{
		base:   base,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *HTTPRoster) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("roster: GET %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetEnrollments returns the current membership of one roster.
func (r *HTTPRoster) GetEnrollments(ctx context.Context, rosterID string) ([]Enrollment, error) {
	var body struct {
		Enrollments []Enrollment `json:"enrollments"`
	}
	path := "/rosters/" + url.PathEscape(rosterID) + "/enrollments"
	if err := r.getJSON(ctx, path, &body); err != nil {
		return nil, err
	}
	return body.Enrollments, nil
}

// GetInstructionMode returns the instruction mode for a roster stem.
func (r *HTTPRoster) GetInstructionMode(ctx context.Context, stem string) (string, error) {
	var body struct {
		Mode string `json:"instruction_mode"`
	}
	if err := r.getJSON(ctx, "/stems/"+url.PathEscape(stem), &body); err != nil {
		return "", err
	}
	return body.Mode, nil
}

// GetMeetingPattern returns the scheduled meeting pattern for a stem.
func (r *HTTPRoster) GetMeetingPattern(ctx context.Context, stem string) (MeetingPattern, error) {
	var body struct {
		Pattern MeetingPattern `json:"meeting_pattern"`
	}
	if err := r.getJSON(ctx, "/stems/"+url.PathEscape(stem)+"/meeting-pattern", &body); err != nil {
		return MeetingPattern{}, err
	}
	return body.Pattern, nil
}

// GetCrosslistSponsor returns the sponsoring roster id for a cross-listed
// roster, or "" when the roster stands alone.
func (r *HTTPRoster) GetCrosslistSponsor(ctx context.Context, rosterID string) (string, error) {
	var body struct {
		Sponsor string `json:"sponsor"`
	}
	if err := r.getJSON(ctx, "/rosters/"+url.PathEscape(rosterID)+"/crosslist", &body); err != nil {
		return "", err
	}
	return body.Sponsor, nil
}

// ListContextRosters returns the roster ids attached to one context.
func (r *HTTPRoster) ListContextRosters(ctx context.Context, contextID string) ([]string, error) {
	var body struct {
		RosterIDs []string `json:"roster_ids"`
	}
	path := "/contexts/" + url.PathEscape(contextID) + "/rosters"
	if err := r.getJSON(ctx, path, &body); err != nil {
		return nil, err
	}
	return body.RosterIDs, nil
}

// ChangedContextsSince reports context ids whose roster data changed after
// the given unix timestamp.
func (r *HTTPRoster) ChangedContextsSince(ctx context.Context, since int64) ([]string, error) {
	var body struct {
		ContextIDs []string `json:"context_ids"`
	}
	path := "/changes?since=" + strconv.FormatInt(since, 10)
	if err := r.getJSON(ctx, path, &body); err != nil {
		return nil, err
	}
	return body.ContextIDs, nil
}

var _ RosterProvider = (*HTTPRoster)(nil)

// HTTPContextDirectory talks to the context membership service.
type HTTPContextDirectory struct {
	base   string
	client *http.Client
}

// NewHTTPContextDirectory builds a context directory client.
func NewHTTPContextDirectory(base string) *HTTPContextDirectory {
	return &HTTPContextDirectory{
		base:   base,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// GetActiveMembers returns the context-wide membership with activity flags.
func (d *HTTPContextDirectory) GetActiveMembers(ctx context.Context, contextID string) ([]ActiveMember, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.base+"/contexts/"+url.PathEscape(contextID)+"/members", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("context directory: GET members for %s: unexpected status %d", contextID, resp.StatusCode)
	}
	var body struct {
		Members []ActiveMember `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Members, nil
}

var _ ContextDirectory = (*HTTPContextDirectory)(nil)
