// Command tracker-sim publishes a simulated vehicle's GPS fixes over MQTT:
// drive legs in random directions separated by parks with position jitter.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	vehicleID := flag.String("vehicle-id", "sim-vehicle-1", "Vehicle identifier")
	startLat := flag.Float64("lat", 52.52, "Starting latitude")
	startLon := flag.Float64("lon", 13.405, "Starting longitude")
	fixInterval := flag.Duration("fix-interval", 30*time.Second, "Simulated time between fixes")
	rate := flag.Duration("rate", 200*time.Millisecond, "Wall clock time between publishes")
	speed := flag.Float64("speed-kmh", 50, "Driving speed")
	legs := flag.Int("legs", 3, "Number of drive legs")
	driveFixes := flag.Int("drive-fixes", 40, "Fixes per drive leg")
	parkFixes := flag.Int("park-fixes", 20, "Fixes per park between legs")
	jitter := flag.Float64("park-jitter-m", 15, "Maximum GPS scatter while parked, in meters")
	qos := flag.Int("qos", 1, "Publish QoS (0 or 1)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")

	flag.Parse()

	if *qos < 0 || *qos > 1 {
		log.Fatalf("qos must be 0 or 1")
	}

	// The route ends now.
	total := *legs * *driveFixes
	if *legs > 1 {
		total += (*legs - 1) * *parkFixes
	}
	start := time.Now().Add(-time.Duration(total) * *fixInterval)

	rng := rand.New(rand.NewSource(*seed))
	fixes := buildRoute(routeOptions{
		DeviceID:   *vehicleID,
		StartLat:   *startLat,
		StartLon:   *startLon,
		Start:      start,
		Interval:   *fixInterval,
		SpeedKmh:   *speed,
		Legs:       *legs,
		DriveFixes: *driveFixes,
		ParkFixes:  *parkFixes,
		JitterM:    *jitter,
	}, rng)

	clientID := fmt.Sprintf("%s-simulator-%d", *vehicleID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID).SetProtocolVersion(4)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s, publishing %d fixes", *brokerAddr, clientID, len(fixes))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()

	topic := fmt.Sprintf("trackers/%s/fixes", *vehicleID)
	for i, fix := range fixes {
		data, err := json.Marshal(fix)
		if err != nil {
			log.Printf("failed to encode fix: %v", err)
			continue
		}

		token := client.Publish(topic, byte(*qos), false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
		} else if (i+1)%10 == 0 || i == len(fixes)-1 {
			log.Printf("published %d/%d fixes to %s", i+1, len(fixes), topic)
		}

		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
		}
	}

	client.Disconnect(250)
}
