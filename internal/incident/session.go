package incident

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"civicsync/internal/observability/metrics"
	"civicsync/internal/upstream"
)

// Report kinds sharing the same machine shape.
const (
	KindDisaster = "disaster"
	KindSentinel = "sentinel"
)

// Machine states.
const (
	StateIdle          = "idle"
	StateImageSelected = "image_selected"
	StateAnalyzing     = "analyzing"
	StateResult        = "result"
	StateFailed        = "failed"
)

var (
	// ErrNoImage is returned when submit is attempted without a photo.
	ErrNoImage = errors.New("incident: no image selected")
	// ErrBusy is returned for mutations attempted mid-analysis.
	ErrBusy = errors.New("incident: analysis in progress")
)

// Analyzer is the remote image analysis capability.
type Analyzer func(ctx context.Context, req upstream.AnalysisRequest) (upstream.AnalysisResponse, error)

// Coordinates is a device location fix.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Locator obtains a best-effort device location.
type Locator interface {
	Locate(ctx context.Context) (*Coordinates, error)
}

// Session manages the capture, geolocate, encode, submit, result
// lifecycle for a single photo report.
type Session struct {
	kind     string
	analyzer Analyzer

	mu          sync.Mutex
	state       string
	image       []byte
	coords      *Coordinates
	result      *upstream.IncidentRecord
	authorities []upstream.AuthorityContact
	failure     string
}

// NewSession constructs a session and kicks off a single best-effort
// geolocation request with a bounded timeout. Absence of a location
// never blocks submission; it is sent as null.
func NewSession(kind string, analyzer Analyzer, locator Locator, locateTimeout time.Duration) (*Session, error) {
	if kind != KindDisaster && kind != KindSentinel {
		return nil, errors.New("incident: unknown kind")
	}
	if analyzer == nil {
		return nil, errors.New("incident: nil analyzer")
	}
	s := &Session{kind: kind, analyzer: analyzer, state: StateIdle}

	if locator != nil {
		if locateTimeout <= 0 {
			locateTimeout = 10 * time.Second
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), locateTimeout)
			defer cancel()
			coords, err := locator.Locate(ctx)
			if err != nil || coords == nil {
				return
			}
			s.mu.Lock()
			s.coords = coords
			s.mu.Unlock()
		}()
	}
	return s, nil
}

// SelectImage stores the photo and moves to ImageSelected. A previous
// result or failure is cleared; selection is rejected mid-analysis.
func (s *Session) SelectImage(image []byte) error {
	if len(image) == 0 {
		return ErrNoImage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAnalyzing {
		return ErrBusy
	}
	s.image = image
	s.result = nil
	s.authorities = nil
	s.failure = ""
	s.state = StateImageSelected
	return nil
}

// ClearImage drops the photo and returns the machine to Idle.
func (s *Session) ClearImage() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAnalyzing {
		return ErrBusy
	}
	s.image = nil
	s.result = nil
	s.authorities = nil
	s.failure = ""
	s.state = StateIdle
	return nil
}

// Submit encodes the photo and sends it with the optional coordinates
// for analysis. On failure the image is retained so resubmission does
// not require re-selecting it.
func (s *Session) Submit(ctx context.Context, description string) error {
	s.mu.Lock()
	if s.state == StateAnalyzing {
		s.mu.Unlock()
		return ErrBusy
	}
	if len(s.image) == 0 {
		s.mu.Unlock()
		return ErrNoImage
	}
	req := upstream.AnalysisRequest{
		ImageBase64:     base64.StdEncoding.EncodeToString(s.image),
		UserDescription: description,
	}
	if s.coords != nil {
		latitude := s.coords.Latitude
		longitude := s.coords.Longitude
		req.DeviceLatitude = &latitude
		req.DeviceLongitude = &longitude
	}
	s.state = StateAnalyzing
	s.failure = ""
	s.mu.Unlock()

	start := time.Now()
	resp, err := s.analyzer(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		metrics.ObserveIncidentAnalyze(s.kind, metrics.ResultError, time.Since(start))
		s.state = StateFailed
		s.failure = err.Error()
		return nil
	}
	record := resp.Incident
	if record == nil {
		record = resp.Report
	}
	if !resp.Success || record == nil {
		metrics.ObserveIncidentAnalyze(s.kind, metrics.ResultError, time.Since(start))
		s.state = StateFailed
		s.failure = resp.ErrorMessage
		if s.failure == "" {
			s.failure = "analysis did not succeed"
		}
		return nil
	}

	metrics.ObserveIncidentAnalyze(s.kind, metrics.ResultSuccess, time.Since(start))
	clone := *record
	s.result = &clone
	s.authorities = append([]upstream.AuthorityContact(nil), resp.Authorities...)
	s.state = StateResult
	return nil
}

// EditResult mutates the local copy of the analysis result. Edits are
// never resubmitted for re-analysis.
func (s *Session) EditResult(edit func(*upstream.IncidentRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateResult || s.result == nil {
		return errors.New("incident: no result to edit")
	}
	edit(s.result)
	return nil
}

// View is a read snapshot of the machine for rendering.
type View struct {
	Kind        string                      `json:"kind"`
	State       string                      `json:"state"`
	HasImage    bool                        `json:"has_image"`
	Coordinates *Coordinates                `json:"coordinates,omitempty"`
	Result      *upstream.IncidentRecord    `json:"result,omitempty"`
	Authorities []upstream.AuthorityContact `json:"authorities,omitempty"`
	Failure     string                      `json:"failure,omitempty"`
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := View{
		Kind:     s.kind,
		State:    s.state,
		HasImage: len(s.image) > 0,
		Failure:  s.failure,
	}
	if s.coords != nil {
		coords := *s.coords
		view.Coordinates = &coords
	}
	if s.result != nil {
		record := *s.result
		view.Result = &record
	}
	view.Authorities = append([]upstream.AuthorityContact(nil), s.authorities...)
	return view
}
