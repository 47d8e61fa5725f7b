package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aeternum-health/dispatch/core/model"
)

var callOpts struct {
	api      string
	token    string
	patient  string
	contact  string
	kind     string
	priority string
	address  string
	lat, lng float64
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Emergency call commands",
}

var callSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an emergency call to a running service",
	RunE:  runCallSubmit,
}

func init() {
	f := callSubmitCmd.Flags()
	f.StringVar(&callOpts.api, "api", "http://localhost:8080", "service base URL")
	f.StringVar(&callOpts.token, "token", "", "bearer token")
	f.StringVar(&callOpts.patient, "patient", "", "patient name")
	f.StringVar(&callOpts.contact, "contact", "", "contact number")
	f.StringVar(&callOpts.kind, "type", string(model.EmergencyOther), "emergency type")
	f.StringVar(&callOpts.priority, "priority", string(model.PriorityMedium), "call priority")
	f.StringVar(&callOpts.address, "address", "", "scene address")
	f.Float64Var(&callOpts.lat, "lat", 0, "scene latitude")
	f.Float64Var(&callOpts.lng, "lng", 0, "scene longitude")
	callCmd.AddCommand(callSubmitCmd)
	rootCmd.AddCommand(callCmd)
}

func callRequest() model.CallRequest {
	return model.CallRequest{
		PatientName:   callOpts.patient,
		ContactNumber: callOpts.contact,
		Type:          model.EmergencyType(callOpts.kind),
		Priority:      model.Priority(callOpts.priority),
		Location: model.Location{
			Address:     callOpts.address,
			Coordinates: model.Coordinates{Lat: callOpts.lat, Lng: callOpts.lng},
		},
	}
}

// submitCall posts req and copies the response body to w.
func submitCall(ctx context.Context, client *http.Client, base, token string, req model.CallRequest, w io.Writer) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/api/emergency", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("submit failed: %s: %s", resp.Status, bytes.TrimSpace(out))
	}
	_, err = w.Write(out)
	return err
}

func runCallSubmit(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	return submitCall(ctx, http.DefaultClient, callOpts.api, callOpts.token, callRequest(), cmd.OutOrStdout())
}
