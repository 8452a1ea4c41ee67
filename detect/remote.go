package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/harmlens/harmlens/robusthttp"
	"github.com/harmlens/harmlens/signals"
)

// RemoteDetector asks an HTTP classifier for one family's signal.
//
// The classifier receives {"family": ..., "text": ...} and answers with a signal object
// ({"score": 0.87, "flags": {...}, "evidence": [...]}). When a Fallback is configured, classifier failures
// are logged and the fallback's answer is used instead.
type RemoteDetector struct {
	family   signals.Family
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	Fallback signals.Detector
	Token    string
}

func NewRemoteDetector(family signals.Family, endpoint string, client *http.Client, logger *slog.Logger) (*RemoteDetector, error) {
	if !family.Valid() {
		return nil, fmt.Errorf("unknown signal family: %s", family)
	}
	if endpoint == "" {
		return nil, fmt.Errorf("remote detector endpoint required")
	}
	if client == nil {
		client = robusthttp.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteDetector{
		family:   family,
		endpoint: endpoint,
		client:   client,
		logger:   logger.With("component", "remote-detector", "family", family),
	}, nil
}

func (d *RemoteDetector) Family() signals.Family { return d.family }

type remoteRequest struct {
	Family signals.Family `json:"family"`
	Text   string         `json:"text"`
}

func (d *RemoteDetector) Detect(ctx context.Context, text string) (signals.Signal, error) {
	sig, err := d.call(ctx, text)
	if err == nil {
		return sig, nil
	}
	if d.Fallback == nil || ctx.Err() != nil {
		return signals.Signal{}, err
	}
	d.logger.Warn("remote detector failed, using fallback", "err", err)
	return d.Fallback.Detect(ctx, text)
}

func (d *RemoteDetector) call(ctx context.Context, text string) (signals.Signal, error) {
	body, err := json.Marshal(remoteRequest{Family: d.family, Text: text})
	if err != nil {
		return signals.Signal{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return signals.Signal{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return signals.Signal{}, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return signals.Signal{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var sig signals.Signal
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sig); err != nil {
		return signals.Signal{}, fmt.Errorf("decoding classifier response: %w", err)
	}
	if err := sig.Check(d.family); err != nil {
		return signals.Signal{}, err
	}
	return sig, nil
}
