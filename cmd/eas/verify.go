package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lowmax205/eas/internal/adapters/faceclient"
	service "github.com/lowmax205/eas/internal/app"
	"github.com/lowmax205/eas/internal/config"
	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/pkg/logger"
)

// verifyInput is the file format read by the verify command. Blobs are
// base64 and timestamps RFC3339, as encoding/json renders them.
type verifyInput struct {
	Event      model.EventWindow          `json:"event"`
	Profile    *model.ReferenceProfile    `json:"profile"`
	Submission model.AttendanceSubmission `json:"submission"`
}

func verifyCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify one submission from a JSON file and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := commonRun(ctx)
			if err != nil {
				return err
			}
			defer syncLogger()

			in, err := readVerifyInput(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runVerify(ctx, cfg, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "input file, - for stdin")
	return cmd
}

func readVerifyInput(path string, stdin io.Reader) (verifyInput, error) {
	var in verifyInput
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return in, err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return in, fmt.Errorf("decode %s: %w", path, err)
	}
	return in, nil
}

func runVerify(ctx context.Context, cfg *config.Config, in verifyInput, out io.Writer) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	svc := service.New(append(service.FromConfig(cfg),
		service.WithLogger(logger.Get()),
		service.WithStore(store),
		service.WithWorkerCount(1),
		service.WithFaceAnalyzer(faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip,
			faceclient.WithTimeout(time.Duration(cfg.FaceTimeoutMS)*time.Millisecond))),
	)...)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return err
	}
	defer svc.Stop()

	if _, err := svc.RegisterEvent(ctx, in.Event); err != nil {
		return err
	}
	if in.Profile != nil {
		if err := svc.RegisterProfile(ctx, *in.Profile); err != nil {
			return err
		}
	}
	res, err := svc.VerifyNow(ctx, in.Submission)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
