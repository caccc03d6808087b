package mqttsub

import (
	"context"
	"errors"
	"testing"

	"energytiles/internal/accrual"
	"energytiles/internal/energy"
)

func TestParseReading(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		tile    string
		wantErr bool
	}{
		{"tile from payload", "tiles/tile_009/readings", `{"username":"alice","tile_id":"tile_001","electricity_wh":1.5}`, "tile_001", false},
		{"tile from topic", "tiles/tile_002/readings", `{"username":"alice","electricity_wh":0}`, "tile_002", false},
		{"foreign topic", "beacons/x/readings", `{"username":"alice","electricity_wh":1}`, "", false},
		{"missing energy", "tiles/tile_002/readings", `{"username":"alice"}`, "", true},
		{"bad json", "tiles/tile_002/readings", `{"username":`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseReading(tt.topic, []byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if r.TileID != tt.tile || r.Username != "alice" {
				t.Fatalf("reading = %+v", r)
			}
		})
	}
}

func TestParseReadingCarriesLocationAndMetadata(t *testing.T) {
	r, err := ParseReading("tiles/tile_001/readings",
		[]byte(`{"username":"bob","electricity_wh":2.25,"latitude":35.1,"longitude":139.2,"metadata":{"plate":"p-3"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.EnergyWh != 2.25 || r.Latitude == nil || *r.Longitude != 139.2 || r.Metadata["plate"] != "p-3" {
		t.Fatalf("reading = %+v", r)
	}
}

type stubRecorder struct {
	got []accrual.SensorReading
	err error
}

func (s *stubRecorder) RecordSensorReading(_ context.Context, r accrual.SensorReading) (accrual.SensorResult, error) {
	s.got = append(s.got, r)
	if s.err != nil {
		return accrual.SensorResult{}, s.err
	}
	return accrual.SensorResult{EnergyWh: r.EnergyWh, RewardPoints: energy.RewardPoints(r.EnergyWh)}, nil
}

func TestHandleForwardsValidReadings(t *testing.T) {
	rec := &stubRecorder{}
	s := &Subscriber{topic: "tiles/+/readings", rec: rec}

	s.handle(context.Background(), "tiles/tile_003/readings", []byte(`{"username":"alice","electricity_wh":1}`))
	s.handle(context.Background(), "tiles/tile_003/readings", []byte(`not json`))

	if len(rec.got) != 1 || rec.got[0].TileID != "tile_003" {
		t.Fatalf("forwarded = %+v", rec.got)
	}

	rec.err = energy.ErrUnknownTile
	s.handle(context.Background(), "tiles/tile_404/readings", []byte(`{"username":"alice","electricity_wh":1}`))
	if len(rec.got) != 2 || !errors.Is(rec.err, energy.ErrUnknownTile) {
		t.Fatal("rejected reading should still reach the recorder once")
	}
}
