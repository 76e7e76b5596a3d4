package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/manumartinm/ps3-worker/internal/artifacts"
	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/consumer"
	"github.com/manumartinm/ps3-worker/internal/taskstore"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var taskID string
	var skipUpload bool

	cmd := &cobra.Command{
		Use:   "enqueue <file.pdf>",
		Short: "Upload a PDF and queue it for processing",
		Long: "Upload a local PDF to the PDF bucket, record a queued task and publish its descriptor " +
			"to the broker. With --no-upload the argument is the filename of a PDF already stored " +
			"under <task-id>/pdfs/ and --task-id is required.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(taskID)
			if id == "" {
				if skipUpload {
					return fmt.Errorf("--task-id is required with --no-upload")
				}
				id = uuid.NewString()
			}
			filename := filepath.Base(args[0])
			if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
				return fmt.Errorf("%s is not a PDF file", filename)
			}

			descriptor := consumer.Descriptor{
				TaskID:    id,
				Filename:  filename,
				MinioPath: artifacts.PDFKey(id, filename),
			}
			if !skipUpload {
				if err := uploadPDF(cmd.Context(), cfg, args[0], descriptor.MinioPath); err != nil {
					return err
				}
			}
			if err := recordQueued(cmd.Context(), cfg, descriptor); err != nil {
				return err
			}
			if err := publishDescriptor(cmd.Context(), cfg, descriptor); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as task %s\n", filename, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task-id", "", "Task id to use (defaults to a new UUID)")
	cmd.Flags().BoolVar(&skipUpload, "no-upload", false, "Do not upload; the PDF is already in the bucket")
	return cmd
}

func uploadPDF(ctx context.Context, cfg *config.Config, localPath, key string) error {
	body, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	objects, err := artifacts.NewS3Objects(ctx, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	if err := objects.EnsureBucket(ctx, cfg.Artifacts.PDFBucket); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", cfg.Artifacts.PDFBucket, err)
	}
	if err := objects.Put(ctx, cfg.Artifacts.PDFBucket, key, body, "application/pdf"); err != nil {
		return fmt.Errorf("upload pdf: %w", err)
	}
	return nil
}

func recordQueued(ctx context.Context, cfg *config.Config, d consumer.Descriptor) error {
	store, err := taskstore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close(context.WithoutCancel(ctx))
	_, err = store.Apply(ctx, d.TaskID, taskstore.Patch{
		Status:    taskstore.StatusQueued,
		Filename:  d.Filename,
		MinioPath: d.MinioPath,
	})
	if err != nil {
		return fmt.Errorf("record task: %w", err)
	}
	return nil
}

func publishDescriptor(ctx context.Context, cfg *config.Config, d consumer.Descriptor) error {
	broker, err := consumer.OpenAMQP(ctx, cfg.BrokerURL(), cfg.Broker.Queue)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer broker.Close()
	if err := broker.Publish(ctx, d); err != nil {
		return fmt.Errorf("publish descriptor: %w", err)
	}
	return nil
}
