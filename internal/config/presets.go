package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const DefaultPresetID = "everyday"

// Preset supplies per-step options for one pipeline invocation.
type Preset struct {
	Captions         CaptionOptions          `mapstructure:"captions" json:"captions"`
	AudioDescription AudioDescriptionOptions `mapstructure:"audioDescription" json:"audio_description"`
	Color            ColorOptions            `mapstructure:"color" json:"color"`
	VideoTransform   *VideoTransformOptions  `mapstructure:"videoTransform" json:"video_transform,omitempty"`
}

type CaptionOptions struct {
	Formats []string `mapstructure:"formats" json:"formats"`
	BurnIn  bool     `mapstructure:"burnIn" json:"burn_in"`
}

type AudioDescriptionOptions struct {
	Enabled bool    `mapstructure:"enabled" json:"enabled"`
	Voice   string  `mapstructure:"voice" json:"voice,omitempty"`
	Speed   float64 `mapstructure:"speed" json:"speed"`
}

type ColorOptions struct {
	FlashDetection    bool `mapstructure:"flashDetection" json:"flash_detection"`
	ContrastAnalysis  bool `mapstructure:"contrastAnalysis" json:"contrast_analysis"`
	ColorBlindPreview bool `mapstructure:"colorBlindPreview" json:"color_blind_preview"`
}

type VideoTransformOptions struct {
	BurnCaptions   bool `mapstructure:"burnCaptions" json:"burn_captions"`
	MixAD          bool `mapstructure:"mixAudioDescription" json:"mix_audio_description"`
	ReduceFlashing bool `mapstructure:"reduceFlashing" json:"reduce_flashing"`
}

// PresetTable maps preset ids to their options.
type PresetTable map[string]Preset

// Resolve returns the preset for id, falling back to the default preset.
// The returned id is the one actually applied.
func (t PresetTable) Resolve(id string) (string, Preset) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = DefaultPresetID
	}
	if p, ok := t[id]; ok {
		return id, p
	}
	return DefaultPresetID, t[DefaultPresetID]
}

func DefaultPresets() PresetTable {
	return PresetTable{
		"everyday": {
			Captions:         CaptionOptions{Formats: []string{"vtt", "srt"}},
			AudioDescription: AudioDescriptionOptions{Enabled: true, Speed: 1.0},
			Color:            ColorOptions{FlashDetection: true},
		},
		"broadcast": {
			Captions:         CaptionOptions{Formats: []string{"vtt", "srt", "scc"}},
			AudioDescription: AudioDescriptionOptions{Enabled: true, Voice: "neutral", Speed: 1.0},
			Color:            ColorOptions{FlashDetection: true, ContrastAnalysis: true},
			VideoTransform:   &VideoTransformOptions{MixAD: true, ReduceFlashing: true},
		},
		"social": {
			Captions:         CaptionOptions{Formats: []string{"vtt"}, BurnIn: true},
			AudioDescription: AudioDescriptionOptions{Enabled: true, Speed: 1.25},
			Color:            ColorOptions{FlashDetection: true, ColorBlindPreview: true},
			VideoTransform:   &VideoTransformOptions{BurnCaptions: true},
		},
	}
}

// PresetHolder serves the current preset table and swaps it on file change.
type PresetHolder struct {
	current atomic.Value // holds PresetTable
}

// NewStaticPresetHolder returns a holder that never reloads.
func NewStaticPresetHolder(table PresetTable) *PresetHolder {
	h := &PresetHolder{}
	h.current.Store(table)
	return h
}

func NewPresetHolder(cfg Config, log *zap.Logger) (*PresetHolder, error) {
	log = log.Named("config.presets")

	v := viper.New()
	v.SetConfigName(cfg.Presets.Name)
	v.SetConfigType("yml")
	for _, p := range cfg.Presets.Paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read presets: %w", err)
		}
		log.Info("presets file not found, using built-in presets")
		return NewStaticPresetHolder(DefaultPresets()), nil
	}

	table, err := decodePresets(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPresetHolder(table)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePresets(v)
		if err != nil {
			log.Warn("invalid presets ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("presets reloaded", zap.String("file", e.Name), zap.Int("count", len(updated)))
	})

	return holder, nil
}

func (h *PresetHolder) Get() PresetTable {
	return h.current.Load().(PresetTable)
}

func decodePresets(v *viper.Viper) (PresetTable, error) {
	var table PresetTable
	if err := v.UnmarshalKey("presets", &table); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	if err := validatePresets(table); err != nil {
		return nil, err
	}
	return table, nil
}

func validatePresets(table PresetTable) error {
	if len(table) == 0 {
		return errors.New("presets cannot be empty")
	}
	if _, ok := table[DefaultPresetID]; !ok {
		return fmt.Errorf("presets must define %q", DefaultPresetID)
	}
	for id, p := range table {
		if len(p.Captions.Formats) == 0 {
			return fmt.Errorf("preset %q: captions.formats cannot be empty", id)
		}
		if p.AudioDescription.Speed < 0 {
			return fmt.Errorf("preset %q: audioDescription.speed cannot be negative", id)
		}
	}
	return nil
}
