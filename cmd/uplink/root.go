package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	uplink "github.com/medviewlabs/signal-uplink"
	"github.com/medviewlabs/signal-uplink/internal/models"
)

var (
	flagAPIURL   string
	flagAccount  string
	flagPassword string
	flagRegion   string
	flagBucket   string
	flagTenant   string
	flagDataID   string
	flagMode     int
	flagTimeout  time.Duration
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "uplink",
		Short:        "Upload signal files to the MedView platform",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "backend base URL")
	cmd.PersistentFlags().StringVar(&flagAccount, "account", "", "backend account email")
	cmd.PersistentFlags().StringVar(&flagPassword, "password", "", "backend password")
	cmd.PersistentFlags().StringVar(&flagRegion, "region", "", "object-store region")
	cmd.PersistentFlags().StringVar(&flagBucket, "bucket", "", "object-store bucket")
	cmd.PersistentFlags().StringVar(&flagTenant, "tenant", "", "tenant (patient) id")

	cmd.AddCommand(uploadCmd())
	cmd.AddCommand(statusCmd())
	return cmd
}

// setup runs SetCredentials and fails on anything but an init-success code.
func setup() error {
	resp := uplink.SetCredentials(flagAPIURL, flagAccount, flagPassword)
	var env models.Envelope
	if err := json.Unmarshal([]byte(resp), &env); err != nil {
		return fmt.Errorf("unexpected boundary response: %s", resp)
	}
	if env.Code != models.StatusSDKInitSuccess {
		return fmt.Errorf("setup failed: %s", env.Message)
	}
	return nil
}

func uploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload one or more files under a single data id and wait for confirmation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(); err != nil {
				return err
			}
			defer uplink.CleanupSDK()

			dataID := flagDataID
			if dataID == "" {
				ids, err := uplink.GenerateUniqueDataIDs(context.Background(), 1)
				if err != nil {
					return fmt.Errorf("no --data-id given and backend allocation failed: %w", err)
				}
				dataID = ids[0]
				fmt.Printf("allocated data id %s\n", dataID)
			}

			uploadDataName := path.Base(args[0])
			if len(args) > 1 {
				uploadDataName = "folder"
			}

			for _, file := range args {
				key := fmt.Sprintf("patient/%s/source_data/%s/%s/%s",
					flagTenant, dataID, uploadDataName, path.Base(file))
				resp := uplink.UploadFileAsync(flagRegion, flagBucket, key, file, dataID, flagTenant, flagMode)
				var env models.Envelope
				if err := json.Unmarshal([]byte(resp), &env); err != nil || env.Code != models.StatusSucceeded {
					return fmt.Errorf("submit %s failed: %s", file, resp)
				}
				fmt.Printf("submitted %s as %s\n", file, env.Message)
			}

			return watch(dataID, flagTimeout)
		},
	}

	cmd.Flags().StringVar(&flagDataID, "data-id", "", "data id (allocated from the backend when empty)")
	cmd.Flags().IntVar(&flagMode, "mode", 0, "operation mode: 0 batch create, 1 realtime append")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 30*time.Minute, "maximum time to wait for confirmation")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <data-id>",
		Short: "Print the status document for a data id once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(); err != nil {
				return err
			}
			defer uplink.CleanupSDK()
			fmt.Println(uplink.GetUploadStatus(args[0]))
			return nil
		},
	}
}

// watch polls the status document until the group reaches a terminal
// state, rendering byte progress as files complete.
func watch(dataID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var bar *progressbar.ProgressBar

	for time.Now().Before(deadline) {
		var report models.StatusReport
		if err := json.Unmarshal([]byte(uplink.GetUploadStatus(dataID)), &report); err != nil || report.DataID == "" {
			time.Sleep(time.Second)
			continue
		}

		if bar == nil && report.TotalSize > 0 {
			bar = progressbar.DefaultBytes(report.TotalSize, "uploading")
		}
		if bar != nil {
			_ = bar.Set64(report.UploadedSize)
		}

		switch report.Status {
		case models.StatusConfirmSuccess:
			fmt.Printf("\n%d file(s) uploaded and confirmed\n", report.UploadedCount)
			return nil
		case models.StatusConfirmFailed:
			return fmt.Errorf("upload stored but confirmation failed")
		case models.StatusFailed:
			return fmt.Errorf("upload failed: %s", report.ErrorMessage)
		}

		time.Sleep(time.Second)
	}
	return fmt.Errorf("timed out waiting for data id %s", dataID)
}
