package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/nugget/carbridge/internal/config"
	"github.com/nugget/carbridge/internal/discovery"
	"github.com/nugget/carbridge/internal/garage"
	"github.com/nugget/carbridge/internal/model"
	"github.com/nugget/carbridge/internal/mqtt"
)

// renderedDocument is one entry of `render -o json` output.
type renderedDocument struct {
	ID       string          `json:"id"`
	Topic    string          `json:"topic"`
	Document json.RawMessage `json:"document"`
}

// runRender loads a garage snapshot into a fresh model and prints the
// discovery documents the bridge would publish for it. No broker is
// contacted. The snapshot path defaults to garage.file from the config.
func runRender(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	file := cfg.Garage.File
	if len(args) > 0 {
		file = args[0]
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(stderr, max(level, slog.LevelWarn), cfg.LogFormat)

	hub := model.NewHub()
	plugin := hub.PluginRegistry().Ensure(mqttPluginID, "MQTT")
	client := mqtt.New(cfg.MQTT, "render", plugin, logger)

	source := garage.New(hub, file, logger)
	if err := source.Load(ctx); err != nil {
		if len(hub.Vehicles()) == 0 {
			return fmt.Errorf("load garage snapshot: %w", err)
		}
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}

	docs, err := renderDocuments(hub, discovery.Assembler{
		HAPrefix:          cfg.HomeAssistant.Prefix,
		Prefix:            client.Prefix(),
		AvailabilityTopic: client.AvailabilityTopic(),
		Images:            cfg.MQTT.ImageFormat == "png",
	})
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}
	for i, d := range docs {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		fmt.Fprintf(stdout, "# %s\n%s\n", d.Topic, d.Document)
	}
	return nil
}

// renderDocuments renders every enabled vehicle, sorted by device id,
// followed by the system device.
func renderDocuments(hub *model.Hub, asm discovery.Assembler) ([]renderedDocument, error) {
	var vehicles []*discovery.Document
	for _, v := range hub.Vehicles() {
		if !v.Enabled() {
			continue
		}
		doc, err := asm.Vehicle(v)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", v.Path(), err)
		}
		vehicles = append(vehicles, doc)
	}
	slices.SortFunc(vehicles, func(a, b *discovery.Document) int { return strings.Compare(a.ID, b.ID) })

	all := append(vehicles, asm.System(hub.Connectors(), hub.Plugins()))
	out := make([]renderedDocument, 0, len(all))
	for _, doc := range all {
		payload, err := doc.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", doc.ID, err)
		}
		out = append(out, renderedDocument{ID: doc.ID, Topic: doc.Topic, Document: payload})
	}
	return out, nil
}
