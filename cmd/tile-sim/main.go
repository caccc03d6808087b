// Command tile-sim publishes simulated floor-tile readings over MQTT, the
// way a pressure plate would report footsteps to the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"energytiles/internal/energy"
	"energytiles/internal/mqttsub"
)

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	tileID := flag.String("tile-id", "tile_001", "Tile identifier")
	capacity := flag.Int("capacity", 1000, "Tile capacity used to size the simulated energy")
	username := flag.String("username", "demo", "User credited with the readings")
	exact := flag.Bool("exact", false, "Simulate footsteps at the tile centre")
	lat := flag.Float64("lat", 0, "Reported latitude (sent only together with -lon)")
	lon := flag.Float64("lon", 0, "Reported longitude (sent only together with -lat)")
	interval := flag.Duration("interval", 2*time.Second, "Interval between published readings")
	seed := flag.Int64("seed", 0, "Random seed; 0 seeds from the clock")

	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	calc := energy.NewCalculator(energy.NewRandSource(*seed), time.Now)
	tile := energy.Tile{ID: *tileID, Capacity: *capacity}

	clientID := fmt.Sprintf("%s-simulator-%d", *tileID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sendLocation := isFlagSet("lat") && isFlagSet("lon")
	topic := fmt.Sprintf("tiles/%s/readings", *tileID)

	publish := func() {
		g := calc.Evaluate(tile, *exact)
		wh := energy.Round(g.EnergyWh, 4)
		payload := mqttsub.Payload{
			Username: *username,
			EnergyWh: &wh,
			Metadata: map[string]any{
				"source":   "simulator",
				"voltage":  energy.Round(g.Voltage, 2),
				"ampere":   energy.Round(g.Ampere, 2),
				"pressure": energy.Round(g.Pressure, 2),
			},
		}
		if sendLocation {
			payload.Latitude, payload.Longitude = lat, lon
		}

		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}

		token := client.Publish(topic, 1, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s %.4f Wh for %s", topic, wh, *username)
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
