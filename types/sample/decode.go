package sample

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/stream"
	"github.com/tidwall/gjson"
)

// Field aliases accepted by Decode, first match wins.
var (
	keysLat        = []string{"latitude", "lat"}
	keysLng        = []string{"longitude", "lng", "long"}
	keysAccuracy   = []string{"accuracy"}
	keysSpeed      = []string{"speed_mps", "speed"}
	keysAltitude   = []string{"altitude", "elevation"}
	keysBearing    = []string{"bearing", "heading"}
	keysActivity   = []string{"activity_type", "activity"}
	keysConfidence = []string{"activity_confidence"}
	keysTime       = []string{"timestamp", "time"}
	keysUser       = []string{"user_id", "name"}
	keysDevice     = []string{"device_id", "uuid"}
	keysPlatform   = []string{"platform"}
)

func first(parsed gjson.Result, keys []string) gjson.Result {
	for _, k := range keys {
		if r := parsed.Get(k); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func optFloat(parsed gjson.Result, keys []string) *float64 {
	r := first(parsed, keys)
	if !r.Exists() || r.Type != gjson.Number {
		return nil
	}
	f := r.Float()
	return &f
}

// Decode parses a single JSON object into a RawSample.
// Both the canonical field names and common device aliases (lat/long, speed,
// heading) are accepted. Timestamps may be unix seconds or RFC3339 strings;
// a missing timestamp is filled with now.
// Samples without coordinates fail with ErrInvalidInput.
func Decode(data []byte, now time.Time) (*RawSample, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidInput)
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidInput)
	}

	lat, lng := first(parsed, keysLat), first(parsed, keysLng)
	if lat.Type != gjson.Number || lng.Type != gjson.Number {
		return nil, fmt.Errorf("%w: missing coordinates", ErrInvalidInput)
	}

	s := &RawSample{
		UserID:             conceptual.UserID(first(parsed, keysUser).String()),
		Lat:                lat.Float(),
		Lng:                lng.Float(),
		Accuracy:           first(parsed, keysAccuracy).Float(),
		Speed:              optFloat(parsed, keysSpeed),
		Altitude:           optFloat(parsed, keysAltitude),
		Bearing:            optFloat(parsed, keysBearing),
		Activity:           first(parsed, keysActivity).String(),
		ActivityConfidence: optFloat(parsed, keysConfidence),
		DeviceID:           first(parsed, keysDevice).String(),
		Platform:           first(parsed, keysPlatform).String(),
	}

	t, err := decodeTime(first(parsed, keysTime), now)
	if err != nil {
		return nil, err
	}
	s.Time = t

	if acc := parsed.Get("accelerometer"); acc.IsObject() {
		s.Accelerometer = &Accelerometer{
			X: acc.Get("x").Float(),
			Y: acc.Get("y").Float(),
			Z: acc.Get("z").Float(),
		}
	} else if x, y, z := parsed.Get("accelerometer_x"), parsed.Get("accelerometer_y"), parsed.Get("accelerometer_z"); x.Exists() && y.Exists() && z.Exists() {
		s.Accelerometer = &Accelerometer{X: x.Float(), Y: y.Float(), Z: z.Float()}
	}
	return s, nil
}

func decodeTime(r gjson.Result, now time.Time) (time.Time, error) {
	switch r.Type {
	case gjson.Number:
		sec, frac := math.Modf(r.Float())
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, r.String())
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidInput, err)
		}
		return t, nil
	}
	return now, nil
}

// DecodeMany decodes either a JSON array of samples or a single sample object.
func DecodeMany(data []byte, now time.Time) ([]*RawSample, error) {
	parsed := gjson.ParseBytes(bytes.TrimSpace(data))
	if !parsed.IsArray() {
		s, err := Decode(data, now)
		if err != nil {
			return nil, err
		}
		return []*RawSample{s}, nil
	}
	out := []*RawSample{}
	var err error
	parsed.ForEach(func(_, value gjson.Result) bool {
		var s *RawSample
		s, err = Decode([]byte(value.Raw), now)
		if err != nil {
			return false
		}
		out = append(out, s)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScanNDJSON decodes newline-delimited samples from r, sending each valid
// sample to the returned channel. Lines that fail to decode are sent to errs,
// if non-nil, and skipped.
func ScanNDJSON(ctx context.Context, r io.Reader, now func() time.Time, errs chan<- error) <-chan *RawSample {
	lines := stream.NDJSON[json.RawMessage](ctx, r, errs)
	decoded := stream.Transform(ctx, func(line json.RawMessage) *RawSample {
		s, err := Decode(line, now())
		if err == nil {
			return s
		}
		if errs != nil {
			select {
			case <-ctx.Done():
			case errs <- err:
			}
		}
		return nil
	}, lines)
	return stream.Filter(ctx, func(s *RawSample) bool { return s != nil }, decoded)
}
