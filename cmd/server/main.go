package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/snake-arena/server/internal/config"
	"github.com/snake-arena/server/internal/server"
)

func main() {
	klog.InitFlags(nil)

	// Environment (and .env) first, flags override.
	limits := config.FromEnv()

	listenOn := flag.String("listen-on", "127.0.0.1", "Host or address to listen on")
	port := flag.Int("port", 23456, "TCP port to listen on (0 picks a free port)")

	flag.IntVar(&limits.MinFieldSide, "min-field-side", limits.MinFieldSide, "Smallest allowed field side")
	flag.IntVar(&limits.MaxFieldSide, "max-field-side", limits.MaxFieldSide, "Largest allowed field side")
	flag.IntVar(&limits.MaxClientNameLen, "max-client-name-len", limits.MaxClientNameLen, "Longest allowed client name")
	flag.IntVar(&limits.MaxFoodItems, "max-food-items", limits.MaxFoodItems, "Most food items allowed in a room")
	flag.IntVar(&limits.MaxPasswordLen, "max-password-len", limits.MaxPasswordLen, "Longest allowed room password")
	flag.IntVar(&limits.MaxPlayersInRoom, "max-players-in-room", limits.MaxPlayersInRoom, "Largest allowed room capacity")
	flag.IntVar(&limits.MaxRoomNameLen, "max-room-name-len", limits.MaxRoomNameLen, "Longest allowed room name")
	flag.IntVar(&limits.MaxSnakeLen, "max-snake-len", limits.MaxSnakeLen, "Longest allowed initial snake")
	flag.IntVar(&limits.MaxTurns, "max-turns", limits.MaxTurns, "Largest allowed turn cap (0 = unlimited)")
	flag.IntVar(&limits.WorkUnits, "work-units", limits.WorkUnits, "Work budget for randomized field generation")
	flag.DurationVar(&limits.MaxTurnTimeout, "max-turn-timeout", limits.MaxTurnTimeout, "Largest allowed per-turn timeout (0 = unlimited)")
	flag.DurationVar(&limits.TurnDelay, "turn-delay", limits.TurnDelay, "Pause between consecutive turns")

	flag.Parse()

	addr := net.JoinHostPort(*listenOn, strconv.Itoa(*port))

	started := make(chan *server.State, 1)
	go func() {
		state := <-started
		fmt.Printf("Arena server listening on ws://%s/ws\n", state.Address)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, addr, limits, started); err != nil {
		klog.Fatal(err)
	}
}
