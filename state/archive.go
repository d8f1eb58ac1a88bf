package state

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/types/trip"
)

// DefaultDouglasPeuckerThreshold is in degrees, roughly 9 m.
const DefaultDouglasPeuckerThreshold = 0.00008

// RouteArchiver stores a finished trip's route geometry.
type RouteArchiver interface {
	ArchiveRoute(ctx context.Context, summary *trip.Summary, points []trip.GpsPoint) error
}

// RouteFeatureCollection builds a GeoJSON collection holding the simplified
// recorded route and, if present, the road-snapped route.
func RouteFeatureCollection(summary *trip.Summary, points []trip.GpsPoint, threshold float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	ls := orb.LineString{}
	for _, p := range points {
		ls = append(ls, p.Point())
	}
	var geom orb.Geometry = ls
	if threshold > 0 && len(ls) > 2 {
		geom = simplify.DouglasPeucker(threshold).Simplify(ls.Clone())
	}
	route := geojson.NewFeature(geom)
	route.Properties["kind"] = "route"
	route.Properties["user_id"] = summary.UserID.String()
	route.Properties["trip_number"] = summary.TripNumber
	route.Properties["chain_id"] = summary.ChainID
	route.Properties["start_time"] = summary.Start
	route.Properties["end_time"] = summary.End
	route.Properties["total_distance_km"] = summary.TotalDistanceKm
	route.Properties["duration_minutes"] = summary.DurationMinutes
	route.Properties["points"] = len(points)
	fc.Append(route)

	if len(summary.Snapped) > 1 {
		snapped := orb.LineString{}
		for _, p := range summary.Snapped {
			snapped = append(snapped, p.Point())
		}
		f := geojson.NewFeature(snapped)
		f.Properties["kind"] = "snapped"
		f.Properties["trip_number"] = summary.TripNumber
		fc.Append(f)
	}
	return fc
}

func archiveKey(summary *trip.Summary) string {
	return path.Join(
		params.ArchiveKeyPrefix,
		summary.UserID.String(),
		summary.Start.UTC().Format("2006"),
		summary.Start.UTC().Format("01"),
		summary.TripNumber+".geojson.gz",
	)
}

func gzipFeatureCollection(fc *geojson.FeatureCollection) ([]byte, error) {
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer([]byte{})
	gz := gzip.NewWriter(buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// S3Archiver uploads gzipped GeoJSON routes to an S3 bucket.
type S3Archiver struct {
	Uploader  s3manageriface.UploaderAPI
	Bucket    string
	Threshold float64
}

// NewS3Archiver uses the shared AWS session configuration
// (environment, shared credentials) with the given region.
func NewS3Archiver(config *params.S3ArchiveConfig) *S3Archiver {
	sess := session.Must(session.NewSession(&aws.Config{
		Region: aws.String(config.Region),
	}))
	return &S3Archiver{
		Uploader:  s3manager.NewUploader(sess),
		Bucket:    config.Bucket,
		Threshold: DefaultDouglasPeuckerThreshold,
	}
}

func (a *S3Archiver) ArchiveRoute(ctx context.Context, summary *trip.Summary, points []trip.GpsPoint) error {
	body, err := gzipFeatureCollection(RouteFeatureCollection(summary, points, a.Threshold))
	if err != nil {
		return err
	}
	key := archiveKey(summary)
	_, err = a.Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:          aws.String(a.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/geo+json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("%w: upload route %s: %v", ErrPersistence, key, err)
	}
	slog.Info("Uploaded route to AWS S3", "bucket", a.Bucket, "key", key)
	return nil
}

// DirArchiver writes gzipped GeoJSON routes under a local directory,
// using the same layout as S3Archiver keys.
type DirArchiver struct {
	Dir       string
	Threshold float64
}

func (a *DirArchiver) Path(summary *trip.Summary) string {
	return filepath.Join(a.Dir, filepath.FromSlash(archiveKey(summary)))
}

func (a *DirArchiver) ArchiveRoute(ctx context.Context, summary *trip.Summary, points []trip.GpsPoint) error {
	body, err := gzipFeatureCollection(RouteFeatureCollection(summary, points, a.Threshold))
	if err != nil {
		return err
	}
	target := a.Path(summary)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.WriteFile(target, body, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
