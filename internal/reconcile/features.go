package reconcile

import (
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/sells-group/fieldmap/internal/model"
)

func nullableID(id model.ID) any {
	if id.IsZero() {
		return nil
	}
	return id.String()
}

// ZoneFeatures builds one polygon per zone with a boundary.
func ZoneFeatures(zones []model.Zone) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, z := range zones {
		ring := z.Boundary()
		if len(ring) == 0 {
			continue
		}
		f := geojson.NewPolygonFeature([][][]float64{ring})
		f.SetProperty("id", nullableID(z.Key()))
		f.SetProperty("nombre", z.Name)
		f.SetProperty("color", z.DisplayColor())
		f.SetProperty("intensity", z.Intensity())
		f.SetProperty("ventas", z.CurrentSales())
		f.SetProperty("crecimiento", z.Growth())
		f.SetProperty("rendimiento", z.PerformanceLabel())
		f.SetProperty("height", z.ExtrusionHeight())
		fc.AddFeature(f)
	}
	return fc
}

// RouteFeatures builds the visited-stop polyline of every route that has at
// least two located visits.
func RouteFeatures(routes []model.Route) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range routes {
		line := r.Polyline()
		if line == nil {
			continue
		}
		f := geojson.NewLineStringFeature(line)
		f.SetProperty("route_id", nullableID(r.ID))
		f.SetProperty("vendedor", r.Agent)
		f.SetProperty("zona", r.ZoneName)
		fc.AddFeature(f)
	}
	return fc
}

// ClientFeatures builds one point per located client across all routes.
func ClientFeatures(routes []model.Route) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range routes {
		for _, c := range r.Clients {
			pos, ok := c.Position()
			if !ok {
				continue
			}
			f := geojson.NewPointFeature(pos)
			f.SetProperty("cliente_id", nullableID(model.FirstID(c.ClientID, c.LegacyID)))
			f.SetProperty("route_detail_id", nullableID(c.RouteDetailID))
			f.SetProperty("nombre", c.DisplayName())
			f.SetProperty("visitado", c.IsVisited())
			if seq, ok := c.VisitOrder(); ok {
				f.SetProperty("visit_sequence", seq)
			} else {
				f.SetProperty("visit_sequence", nil)
			}
			f.SetProperty("unplanned", c.Unplanned())
			fc.AddFeature(f)
		}
	}
	return fc
}

// AgentFeatures keeps the positions tracked within window before now and
// tags each with its day bucket. Positions outside today and yesterday are
// dropped.
func AgentFeatures(positions []model.AgentPosition, now time.Time, window time.Duration) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	since := now.Add(-window)
	for _, a := range positions {
		at, ok := a.TrackedAt(now.Location())
		if !ok || at.Before(since) || at.After(now) {
			continue
		}
		pos, ok := a.Position()
		if !ok {
			continue
		}
		when := model.BucketFor(at, now)
		if when == model.BucketNone {
			continue
		}
		f := geojson.NewPointFeature(pos)
		f.SetProperty("user_id", nullableID(a.UserID))
		f.SetProperty("user_full_name", a.DisplayName())
		if a.BatteryLevel != nil {
			f.SetProperty("battery_level", *a.BatteryLevel)
		} else {
			f.SetProperty("battery_level", nil)
		}
		f.SetProperty("tracking_date", a.TrackingDate)
		f.SetProperty("localizado_hoy", when == model.BucketToday)
		f.SetProperty("when", string(when))
		fc.AddFeature(f)
	}
	return fc
}
