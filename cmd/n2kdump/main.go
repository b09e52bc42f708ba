// Command n2kdump reads raw NMEA-2000 messages from a CAN interface or
// an Actisense NGT-1 style serial device and prints them, decoded
// against a canboat-style PGN schema when one is given.
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

	"github.com/tuna-marine/n2k-router/caninterface"
	"github.com/tuna-marine/n2k-router/coupler"
	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/pgn"
)

func main() {
	iface := flag.String("interface", "can0", "SocketCAN interface name (ignored with -serial)")
	serialPort := flag.String("serial", "", "serial device path for an NGT-1 style coupler, e.g. /dev/ttyUSB0")
	baud := flag.Int("baud", 115200, "serial baud rate")
	schemaPath := flag.String("pgns", "", "path to a canboat-style PGN schema JSON file; raw-only output if empty")
	rawOnly := flag.Bool("raw", false, "print raw messages even when a schema is given")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var decoder *pgn.Decoder
	if *schemaPath != "" {
		schema, err := pgn.LoadSchema(os.DirFS("."), *schemaPath)
		if err != nil {
			log.Fatalf("loading schema: %v", err)
		}
		registry, err := pgn.NewRegistry(schema)
		if err != nil {
			log.Fatalf("building registry: %v", err)
		}
		decoder = pgn.NewDecoder(registry)
		fmt.Printf("# loaded %d PGN definitions\n", len(schema.PGNs))
	}

	var transport coupler.Transport
	if *serialPort != "" {
		transport = coupler.NewSerialTransport(coupler.SerialPortConfig{Name: *serialPort, Baud: *baud})
	} else {
		transport = coupler.NewCANTransport(caninterface.NewDevice(caninterface.DeviceConfig{InterfaceName: *iface}), nil)
	}

	if !transport.Open(ctx) {
		log.Fatalf("failed to open transport")
	}
	defer transport.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := transport.ReadOne(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("read error: %v", err)
			time.Sleep(time.Second)
			continue
		}

		if decoder == nil || *rawOnly {
			b, _ := json.Marshal(env.Raw)
			fmt.Println(string(b))
			continue
		}

		decoded, err := decoder.Decode(env.Raw)
		if err != nil {
			fmt.Printf("# PGN %d: %v\n", env.Raw.Header.PGN, err)
			continue
		}
		b, _ := json.Marshal(decoded)
		fmt.Println(string(b))
		_ = message.FromDecoded(decoded, env.Timestamp, &env.Raw)
	}
}
