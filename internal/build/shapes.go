package build

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/transitdocs/schedule-builder/internal/docstore"
	"github.com/transitdocs/schedule-builder/internal/models"
	"github.com/transitdocs/schedule-builder/internal/natural"
	"github.com/transitdocs/schedule-builder/internal/source"
)

// ShapeAssembler turns shape points into one Shape document per shape id
type ShapeAssembler struct {
	src    Source
	store  *docstore.Store
	sorter *natural.Sorter
	log    logrus.FieldLogger
}

func NewShapeAssembler(src Source, store *docstore.Store, log logrus.FieldLogger) *ShapeAssembler {
	return &ShapeAssembler{
		src:    src,
		store:  store,
		sorter: natural.New(),
		log:    log.WithField("stage", StageShapes),
	}
}

// Run rebuilds the shapes collection
func (a *ShapeAssembler) Run(ctx context.Context) (docstore.Counts, error) {
	start := time.Now()

	points, err := a.src.ShapePoints(ctx)
	if err != nil {
		return docstore.Counts{}, sourceError(err, "shape points")
	}

	shapes, err := assembleShapes(points, a.sorter)
	if err != nil {
		return docstore.Counts{}, err
	}
	a.log.WithField("shapes", len(shapes)).Debug("grouped shape points")

	rec := newReconciler(a.store, docstore.Shapes)
	for _, shape := range shapes {
		if err := rec.upsert(ctx, shape.ShapeID, shape); err != nil {
			return docstore.Counts{}, err
		}
		a.log.WithFields(logrus.Fields{"shape": shape.ShapeID, "points": len(shape.Points)}).Debug("saved shape")
	}

	counts, err := rec.finish(ctx)
	if err != nil {
		return docstore.Counts{}, err
	}

	a.log.WithFields(logrus.Fields{
		"upserted": counts.Upserted,
		"deleted":  counts.Deleted,
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("shapes rebuilt")
	return counts, nil
}

// assembleShapes groups points by shape id in first-seen order, orders each
// group by numeric sequence and derives the GeoJSON geometry. Every shape
// is validated before any is returned.
func assembleShapes(points []source.ShapePoint, sorter *natural.Sorter) ([]*models.Shape, error) {
	groups := newOrdered[models.Shape]()
	for _, p := range points {
		shape := groups.getOrAdd(p.ShapeID, func() models.Shape {
			return models.Shape{ShapeID: p.ShapeID}
		})
		shape.Points = append(shape.Points, models.ShapePoint{
			Lat:          p.Lat,
			Lon:          p.Lon,
			Sequence:     p.Sequence,
			DistTraveled: p.DistTraveled,
		})
	}

	shapes := groups.values()
	for _, shape := range shapes {
		natural.SortStableBy(sorter, shape.Points, func(p models.ShapePoint) string { return p.Sequence })

		feature, err := shapeFeature(shape.ShapeID, shape.Points)
		if err != nil {
			return nil, err
		}
		shape.GeoJSON = feature
	}
	return shapes, nil
}

// shapeFeature builds a LineString feature with (lon, lat) coordinates in
// point order.
func shapeFeature(shapeID string, points []models.ShapePoint) (*geojson.Feature, error) {
	coords := make([]geom.Coord, 0, len(points))
	for _, p := range points {
		lon, err := strconv.ParseFloat(p.Lon, 64)
		if err != nil {
			return nil, invalidData(err, "shape %s point %s longitude", shapeID, p.Sequence)
		}
		lat, err := strconv.ParseFloat(p.Lat, 64)
		if err != nil {
			return nil, invalidData(err, "shape %s point %s latitude", shapeID, p.Sequence)
		}
		coords = append(coords, geom.Coord{lon, lat})
	}

	line, err := geom.NewLineString(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, invalidData(err, "shape %s geometry", shapeID)
	}

	return &geojson.Feature{
		ID:       shapeID,
		Geometry: line,
		Properties: map[string]interface{}{
			"shape_id": shapeID,
		},
	}, nil
}
