package core

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

var reloadMu sync.Mutex

// ReloadConfig re-reads configPath and applies the settings that can change
// without a restart. It returns a description of each change.
//
// Hot-reloadable settings:
//   - logging.level
//   - shield tunables (base power, block base, breach decrement, rotation,
//     spike policy, collaborator timeout)
//   - shield.cycle_interval
//   - webhooks.urls
//   - server.api_keys, server.read_only_keys, server.cors_origins
//
// Everything else (bus, server address, seed, trace file, batch size,
// dedup window, rate limit, syslog, feeds) needs a restart.
func ReloadConfig(engine *Engine, configPath string, logger zerolog.Logger) ([]string, error) {
	if configPath == "" {
		return nil, fmt.Errorf("no config path set, cannot reload")
	}

	newCfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	reloadMu.Lock()
	defer reloadMu.Unlock()

	old := engine.Config()
	next := *old
	var changes []string

	if newCfg.LogLevel() != old.LogLevel() {
		next.Logging.Level = newCfg.Logging.Level
		applyLogLevel(newCfg.LogLevel())
		changes = append(changes, "logging.level → "+newCfg.LogLevel())
	}

	tunables := newCfg.Shield
	tunables.Seed = old.Shield.Seed
	tunables.TraceFile = old.Shield.TraceFile
	tunables.MaxBatch = old.Shield.MaxBatch
	tunables.DedupWindow = old.Shield.DedupWindow
	tunables.HistorySize = old.Shield.HistorySize
	tunables.CycleInterval = old.Shield.CycleInterval
	if tunables != old.Shield {
		next.Shield = tunables
		engine.Shield.SetConfig(next.EngineConfig())
		changes = append(changes, "shield tunables reloaded")
	}

	if newCfg.Shield.CycleInterval != old.Shield.CycleInterval && newCfg.Shield.CycleInterval > 0 {
		next.Shield.CycleInterval = newCfg.Shield.CycleInterval
		engine.Scheduler.SetInterval(newCfg.Shield.CycleInterval)
		changes = append(changes, "shield.cycle_interval → "+newCfg.Shield.CycleInterval.String())
	}

	if !slices.Equal(newCfg.Webhooks.URLs, old.Webhooks.URLs) {
		next.Webhooks.URLs = newCfg.Webhooks.URLs
		engine.Dispatcher.SetURLs(newCfg.Webhooks.URLs)
		changes = append(changes, fmt.Sprintf("webhooks.urls → %d URLs", len(newCfg.Webhooks.URLs)))
	}

	if !slices.Equal(newCfg.Server.APIKeys, old.Server.APIKeys) ||
		!slices.Equal(newCfg.Server.ReadOnlyKeys, old.Server.ReadOnlyKeys) {
		next.Server.APIKeys = newCfg.Server.APIKeys
		next.Server.ReadOnlyKeys = newCfg.Server.ReadOnlyKeys
		changes = append(changes, "server api keys reloaded")
	}

	if !slices.Equal(newCfg.Server.CORSOrigins, old.Server.CORSOrigins) {
		next.Server.CORSOrigins = newCfg.Server.CORSOrigins
		changes = append(changes, "server.cors_origins reloaded")
	}

	engine.swapConfig(&next)

	if len(changes) == 0 {
		changes = append(changes, "no changes detected")
	}
	logger.Info().Strs("changes", changes).Msg("configuration reloaded")
	return changes, nil
}

const watchDebounce = 250 * time.Millisecond

// WatchConfig calls onChange whenever path is written, created or renamed
// into place, until ctx is done. The parent directory is watched so editors
// that replace the file are seen too. Bursts are collapsed into one call.
func WatchConfig(ctx context.Context, path string, logger zerolog.Logger, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	log := logger.With().Str("component", "config_watcher").Str("path", abs).Logger()
	log.Info().Msg("watching config file")

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					timer.Reset(watchDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				log.Debug().Msg("config file changed")
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
