package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/carbridge/internal/api"
	"github.com/nugget/carbridge/internal/discovery"
	"github.com/nugget/carbridge/internal/httpkit"
)

// statusReport is what `carbridge status` prints.
type statusReport struct {
	URL       string                  `json:"url"`
	Health    api.HealthResponse      `json:"health"`
	Discovery []discovery.Publication `json:"discovery"`
}

// runStatus queries a running bridge's status API. The base URL
// defaults to the configured listen address on localhost.
func runStatus(ctx context.Context, stdout io.Writer, configPath, outputFmt string, args []string) error {
	base := ""
	if len(args) > 0 {
		base = args[0]
	} else {
		cfg, err := loadConfigOrDefault(configPath)
		if err != nil {
			return err
		}
		if !cfg.Listen.Enabled() {
			return fmt.Errorf("status API is disabled (listen.port %d)", cfg.Listen.Port)
		}
		host := cfg.Listen.Address
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		base = "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Listen.Port))
	}
	base = strings.TrimSuffix(base, "/")

	client := httpkit.NewClient(
		httpkit.WithTimeout(10*time.Second),
		httpkit.WithRetry(2, 500*time.Millisecond),
	)

	report := statusReport{URL: base}

	// A degraded bridge answers 503 with a full health document.
	var statusErr *httpkit.StatusError
	healthErr := httpkit.GetJSON(ctx, client, base+"/health", &report.Health)
	if healthErr != nil && (!errors.As(healthErr, &statusErr) || report.Health.Status == "") {
		return fmt.Errorf("query health: %w", healthErr)
	}

	var list struct {
		Devices []discovery.Publication `json:"devices"`
	}
	if err := httpkit.GetJSON(ctx, client, base+"/v1/discovery", &list); err != nil {
		return fmt.Errorf("query discovery: %w", err)
	}
	report.Discovery = list.Devices

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printStatus(stdout, report)
	}

	if report.Health.Status != "healthy" {
		return fmt.Errorf("bridge is %s", report.Health.Status)
	}
	return nil
}

func printStatus(w io.Writer, r statusReport) {
	fmt.Fprintf(w, "%s: %s (discovery %s)\n", r.URL, r.Health.Status, r.Health.Discovery)
	for _, s := range r.Health.Services {
		state := "ready"
		if !s.Ready {
			state = "down"
			if s.LastError != "" {
				state += ": " + s.LastError
			}
		}
		fmt.Fprintf(w, "  service %-10s %s\n", s.Name, state)
	}
	for _, p := range r.Discovery {
		fmt.Fprintf(w, "  device  %-20s %d components, published %s\n",
			p.ID, p.Components, p.PublishedAt.Local().Format(time.DateTime))
	}
}
