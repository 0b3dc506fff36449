// Package config defines the on-disk configuration shape and its
// defaults, grounded on the teacher's cmd/server Config/DefaultConfig
// pattern — a plain JSON-tagged struct with a constructor supplying
// production-sane defaults, loaded and saved with encoding/json rather
// than a config-framework library, matching the teacher's own choice.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/click"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/capture"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/match"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/schedule"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

// Config is the full worker configuration, covering target resolution,
// capture, matching, scheduling, clicking, the template bank, and the
// diagnostics surface.
type Config struct {
	// Target selection
	WindowTitle             string `json:"target_window_title"`
	WindowTitlePartialMatch bool   `json:"window_title_partial_match"`
	WindowProcess           string `json:"target_process"`
	TargetHandle            int64  `json:"target_hwnd"`
	AutoUpdateHwndByProcess bool   `json:"auto_update_hwnd_by_process"`

	// capture_backend is authoritative over use_monitor whenever both
	// are present; a legacy "screen"/"auto" value migrates to "monitor",
	// and a legacy "wgc" value migrates to "window", on Load.
	CaptureBackend   string `json:"capture_backend"`
	MonitorIndex     int    `json:"monitor_index"`
	UseMonitor       bool   `json:"use_monitor"`
	IncludeCursor    bool   `json:"include_cursor"`
	BorderRequired   bool   `json:"border_required"`
	CaptureFPSMax    int    `json:"fps_max"`
	CaptureTimeoutMS int    `json:"capture_timeout_ms"`
	RestoreMinimized bool   `json:"restore_minimized_noactivate"`

	// Matching. TemplatePath is the legacy single-template key; it is
	// folded into TemplatePaths by TemplatePathList.
	TemplatePath     string     `json:"template_path"`
	TemplatePaths    []string   `json:"template_paths"`
	MatchThreshold   float64    `json:"threshold"`
	MatchGrayscale   bool       `json:"grayscale"`
	MultiScale       bool       `json:"multi_scale"`
	PyramidScales    []float64  `json:"scales"`
	MinDetections    int        `json:"min_detections"`
	ROI              types.Rect `json:"roi"`

	// Scheduling
	IntervalMS           int      `json:"interval_ms"`
	ActiveScanIntervalMS int      `json:"active_scan_interval_ms"`
	IdleScanIntervalMS   int      `json:"idle_scan_interval_ms"`
	MissBackoffMSMax     int      `json:"miss_backoff_ms_max"`
	HitCooldownMS        int      `json:"hit_cooldown_ms"`
	ForegroundWhitelist  []string `json:"process_whitelist"`

	// Clicking
	ClickMethod             string  `json:"click_method"`
	ClickOffsetX            int     `json:"click_offset_x"`
	ClickOffsetY            int     `json:"click_offset_y"`
	ClickCooldownS          float64 `json:"cooldown_s"`
	ClickVerifyBeforeClick  bool    `json:"click_verify_before_click"`
	ClickGuardedTimeoutMS   int     `json:"click_guarded_timeout_ms"`

	// Non-goal per the design, accepted for forward compatibility but
	// never consulted by the capture backend.
	DirtyRegionMode string `json:"dirty_region_mode"`

	// Debug image capture
	DebugImagesEnabled bool   `json:"debug_images_enabled"`
	DebugImageDir      string `json:"debug_image_dir"`

	// Diagnostics surface
	ControlListenAddr string `json:"control_listen_addr"`
	LogLevel          string `json:"log_level"`
}

// DefaultConfig returns the configuration a fresh install starts with.
func DefaultConfig() *Config {
	return &Config{
		CaptureBackend:       string(types.BackendWindow),
		MonitorIndex:         1,
		CaptureFPSMax:        10,
		CaptureTimeoutMS:     2000,
		RestoreMinimized:     true,
		MatchThreshold:       0.85,
		MultiScale:           false,
		PyramidScales:        []float64{1.0},
		MinDetections:        1,
		IntervalMS:           800,
		ActiveScanIntervalMS: 500,
		IdleScanIntervalMS:   2000,
		MissBackoffMSMax:     8000,
		HitCooldownMS:        3000,
		ClickMethod:          "message",
		ClickCooldownS:       5.0,
		ClickGuardedTimeoutMS: 0,
		DirtyRegionMode:      "off",
		DebugImagesEnabled:   false,
		DebugImageDir:        "debug_images",
		ControlListenAddr:    "127.0.0.1:8787",
		LogLevel:             "info",
	}
}

// Load reads a JSON config from path, applying defaults for any field
// the file omits and migrating legacy capture_backend spellings.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.migrate()
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func Save(path string, cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func (c *Config) migrate() {
	switch c.CaptureBackend {
	case "screen", "auto":
		c.CaptureBackend = string(types.BackendMonitor)
	case "wgc":
		c.CaptureBackend = string(types.BackendWindow)
	}
}

// Target builds the WindowTarget the locator resolves against.
func (c *Config) Target() types.WindowTarget {
	return types.WindowTarget{
		Handle:              uintptr(c.TargetHandle),
		Title:               c.WindowTitle,
		TitlePartialMatch:   c.WindowTitlePartialMatch,
		Process:             c.WindowProcess,
		AutoUpdateByProcess: c.AutoUpdateHwndByProcess,
	}
}

// TemplatePathList returns every configured template path, folding the
// legacy single-template_path key in ahead of template_paths.
func (c *Config) TemplatePathList() []string {
	if c.TemplatePath == "" {
		return c.TemplatePaths
	}
	out := make([]string, 0, len(c.TemplatePaths)+1)
	out = append(out, c.TemplatePath)
	out = append(out, c.TemplatePaths...)
	return out
}

func (c *Config) CaptureOptions() capture.Options {
	return capture.Options{
		IncludeCursor:              c.IncludeCursor,
		BorderRequired:             c.BorderRequired,
		FPSMax:                     c.CaptureFPSMax,
		TimeoutMS:                  c.CaptureTimeoutMS,
		RestoreMinimizedNoActivate: c.RestoreMinimized,
	}
}

func (c *Config) MatchOptions() match.Options {
	return match.Options{
		Threshold: c.MatchThreshold,
		Grayscale: c.MatchGrayscale,
		ROI:       c.ROI,
	}
}

func (c *Config) ScheduleConfig() schedule.Config {
	active := c.ActiveScanIntervalMS
	if active <= 0 {
		active = c.IntervalMS
	}
	return schedule.Config{
		ActiveScanIntervalMS: active,
		IdleScanIntervalMS:   c.IdleScanIntervalMS,
		MissBackoffMSMax:     c.MissBackoffMSMax,
		HitCooldownMS:        c.HitCooldownMS,
	}
}

func (c *Config) ClickOptions() click.Options {
	return click.Options{
		Method:                  click.Method(c.ClickMethod),
		VerifyWindowBeforeClick: c.ClickVerifyBeforeClick,
		CooldownS:               c.ClickCooldownS,
		GuardedTimeoutMS:        c.ClickGuardedTimeoutMS,
	}
}

func (c *Config) ClickOffset() types.Point {
	return types.Point{X: c.ClickOffsetX, Y: c.ClickOffsetY}
}

func (c *Config) BackendKind() types.CaptureBackendKind {
	if c.CaptureBackend == string(types.BackendMonitor) {
		return types.BackendMonitor
	}
	return types.BackendWindow
}
