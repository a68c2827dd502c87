package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/database"
	"arbiter/internal/domain"
	"arbiter/internal/export"
	"arbiter/internal/models"
	"arbiter/internal/repository"
	"arbiter/internal/service"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config.yaml")
		roomsPath  = flag.String("rooms", "configs/rooms.yaml", "path to rooms.yaml")
		count      = flag.Int("count", 200, "number of booking attempts")
		days       = flag.Int("days", 14, "spread bookings over this many days from today")
		users      = flag.Int("users", 25, "number of distinct user ids")
		seed       = flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
		approve    = flag.Float64("approve", 0.5, "share of created bookings to approve")
		exportXLSX = flag.Bool("export", false, "write an xlsx report of the seeded range")
	)
	flag.Parse()

	if *count <= 0 || *days <= 0 || *users <= 0 {
		return errors.New("count, days and users must be positive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rooms, err := config.LoadRooms(*roomsPath)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	if len(rooms) == 0 {
		return errors.New("no rooms in yaml")
	}

	db, err := database.NewDB(cfg.Database, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	quiet := logger.Level(zerolog.WarnLevel)
	roomService := service.NewRoomService(db, &logger)
	bookingService := service.NewBookingService(db, db, repository.NewMemoryRoomLocker(cfg.Booking.LockWait), cfg.Booking, &quiet)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := roomService.SyncRooms(ctx, rooms); err != nil {
		return err
	}

	var active []int64
	for _, room := range rooms {
		if room.IsActive {
			active = append(active, room.ID)
		}
	}
	if len(active) == 0 {
		return errors.New("no active rooms to book")
	}

	rng := rand.New(rand.NewPCG(*seed, *seed>>1))
	admin := models.Actor{UserID: 1, Role: models.RoleAdmin}
	from := time.Now().UTC().Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, *days)

	// accepted holds what this run booked per room. Rows from earlier runs
	// may add conflicts it does not predict, never remove them.
	accepted := make(map[int64][]models.Interval)
	created, conflicts, approved := 0, 0, 0
	for i := 0; i < *count; i++ {
		start := from.
			AddDate(0, 0, rng.IntN(*days)).
			Add(time.Duration(8+rng.IntN(10)) * time.Hour).
			Add(time.Duration(rng.IntN(2)*30) * time.Minute)
		end := start.Add(time.Duration(1+rng.IntN(4)) * 30 * time.Minute)

		actor := models.Actor{UserID: int64(2 + rng.IntN(*users)), Role: models.RoleUser}
		roomID := active[rng.IntN(len(active))]

		candidate := models.Interval{Start: start, End: end}
		clash := false
		for _, iv := range accepted[roomID] {
			if iv.Overlaps(candidate) {
				clash = true
				break
			}
		}

		booking, err := bookingService.CreateBooking(ctx, actor, roomID, fmt.Sprintf("Seeded meeting #%d", i+1), start, end)
		if errors.Is(err, domain.ErrConflict) {
			conflicts++
			continue
		}
		if err != nil {
			return fmt.Errorf("create booking %d: %w", i+1, err)
		}
		if clash {
			return fmt.Errorf("booking %d in room %d was accepted over an overlapping booking", booking.ID, roomID)
		}
		accepted[roomID] = append(accepted[roomID], candidate)
		created++

		if rng.Float64() < *approve {
			if _, err := bookingService.Approve(ctx, admin, booking.ID); err != nil {
				return fmt.Errorf("approve booking %d: %w", booking.ID, err)
			}
			approved++
		}
	}

	logger.Info().
		Int("attempts", *count).
		Int("created", created).
		Int("approved", approved).
		Int("conflicts", conflicts).
		Msg("seeding completed")

	if !*exportXLSX {
		return nil
	}

	bookings, err := bookingService.ListBookings(ctx, models.BookingFilter{From: from, To: to})
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}
	stored, err := roomService.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	path, err := export.NewExporter(cfg.Exports.Path, &logger).Save(stored, bookings, from, to)
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", path)
	return nil
}
