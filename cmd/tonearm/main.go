package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"
	"github.com/satindergrewal/tonearm/internal/audio"
	"github.com/satindergrewal/tonearm/internal/codec"
	"github.com/satindergrewal/tonearm/internal/config"
	"github.com/satindergrewal/tonearm/internal/loudness"
	"github.com/satindergrewal/tonearm/internal/mixer"
	"github.com/satindergrewal/tonearm/internal/normaliser"
	"github.com/satindergrewal/tonearm/internal/player"
	"github.com/satindergrewal/tonearm/internal/sink"
	"github.com/satindergrewal/tonearm/internal/source"
)

func main() {
	godotenv.Load()
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := build(cfg)
	if err != nil {
		log.Fatalf("tonearm: %v", err)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		p.Run(ctx)
	}()

	go func() {
		for ev := range p.Events() {
			logEvent(ev)
		}
	}()

	log.Printf("tonearm ready (backend=%s, tracks=%s)", cfg.Backend, cfg.TrackDir)
	repl(ctx, p, cfg)

	cancel()
	<-runDone
}

// build validates configuration and wires the player to its collaborators.
// Every bad selection fails here, before any audio work starts.
func build(cfg config.Config) (*player.Player, error) {
	curve, err := mixer.ParseCurve(cfg.VolumeCurve)
	if err != nil {
		return nil, err
	}
	format, err := audio.ParseSampleFormat(cfg.SampleFormat)
	if err != nil {
		return nil, err
	}
	mode, err := normaliser.ParseMode(cfg.NormalisationMode)
	if err != nil {
		return nil, err
	}

	out, err := sink.New(sink.Config{
		Backend: cfg.Backend,
		Device:  cfg.Device,
		Format:  format,
	})
	if err != nil {
		return nil, err
	}

	provider := newProvider(cfg)
	mix := mixer.New(curve, cfg.VolumeRangeDB, cfg.InitialVolume)

	return player.New(player.Config{
		BufferFrames:     cfg.BufferFrames,
		PreloadThreshold: cfg.PreloadThreshold,
		EventBuffer:      cfg.EventBuffer,
		Normalisation: normaliser.Config{
			Enabled:     cfg.Normalisation,
			Mode:        mode,
			ReferenceDB: cfg.ReferenceDB,
			PregainDB:   cfg.PregainDB,
			GainClampDB: cfg.GainClampDB,
			Threshold:   cfg.LimiterThreshold,
			Attack:      cfg.LimiterAttack,
			Release:     cfg.LimiterRelease,
			SampleRate:  audio.SampleRate,
		},
	}, provider, out, mix), nil
}

func newProvider(cfg config.Config) source.Provider {
	var p source.Provider = source.NewDirProvider(cfg.TrackDir)
	if cfg.TrackKey != "" {
		p = source.NewEncryptedProvider(p, source.DeriveKey(cfg.TrackKey))
	}
	return p
}

func logEvent(ev player.Event) {
	switch ev.Kind {
	case player.EventVolumeChanged:
		log.Printf("event: %s level=%d", ev.Kind, ev.Volume)
	case player.EventStopped:
		log.Printf("event: %s", ev.Kind)
	default:
		log.Printf("event: %s track=%s pos=%s", ev.Kind, ev.TrackID, ev.Position.Round(time.Millisecond))
	}
}

func repl(ctx context.Context, p *player.Player, cfg config.Config) {
	rl, err := readline.New("tonearm> ")
	if err != nil {
		log.Printf("readline unavailable: %v", err)
		<-ctx.Done()
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch cmd, args := fields[0], fields[1:]; cmd {
		case "load":
			if len(args) < 1 {
				fmt.Println("usage: load <track> [position-seconds]")
				continue
			}
			pos := time.Duration(0)
			if len(args) > 1 {
				s, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					fmt.Println("bad position:", args[1])
					continue
				}
				pos = time.Duration(s * float64(time.Second))
			}
			p.Load(args[0], true, pos)
		case "play":
			p.Play()
		case "pause":
			p.Pause()
		case "stop":
			p.Stop()
		case "seek":
			if len(args) < 1 {
				fmt.Println("usage: seek <position-seconds>")
				continue
			}
			s, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				fmt.Println("bad position:", args[0])
				continue
			}
			p.Seek(time.Duration(s * float64(time.Second)))
		case "vol":
			if len(args) < 1 {
				fmt.Printf("usage: vol <0-%d>\n", mixer.MaxVolume)
				continue
			}
			level, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Println("bad level:", args[0])
				continue
			}
			p.SetVolume(level)
		case "preload":
			if len(args) < 1 {
				fmt.Println("usage: preload <track>")
				continue
			}
			p.Preload(args[0])
		case "status":
			s := p.State()
			fmt.Printf("%s track=%s pos=%s\n", s.Kind, s.TrackID, s.Position.Round(time.Millisecond))
		case "scan":
			if len(args) < 1 {
				fmt.Println("usage: scan <track>")
				continue
			}
			if err := scan(ctx, cfg, args[0]); err != nil {
				fmt.Println("scan failed:", err)
			}
		case "quit", "exit":
			return
		default:
			fmt.Println("commands: load play pause stop seek vol preload status scan quit")
		}
	}
}

// scan measures a track's loudness and writes the sidecar metadata the
// directory provider reads back on the next fetch.
func scan(ctx context.Context, cfg config.Config, id string) error {
	track, err := newProvider(cfg).Fetch(ctx, id)
	if err != nil {
		return err
	}
	defer track.Audio.Close()

	dec, err := codec.New(track.Format, track.Audio)
	if err != nil {
		return err
	}
	defer dec.Close()

	data, err := loudness.Scan(dec)
	if err != nil {
		return err
	}

	out := struct {
		DurationMS    int64            `json:"duration_ms"`
		Normalisation *normaliser.Data `json:"normalisation"`
	}{
		DurationMS:    track.Duration.Milliseconds(),
		Normalisation: data,
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	path := sidecarFor(cfg.TrackDir, id)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	fmt.Printf("scanned %s: gain=%.2fdB peak=%.3f -> %s\n", id, data.TrackGainDB, data.TrackPeak, path)
	return nil
}

func sidecarFor(root, id string) string {
	id = strings.TrimSuffix(id, filepath.Ext(id))
	return filepath.Join(root, id+".json")
}
