// Package transfer uploads local files to a named remote collection.
//
// A collection is a folder <prefix>/<name> on the remote side. Uploads are
// all or nothing per call: the first failing file aborts the call, the session
// is closed and the error returned. Re-uploading a file overwrites it, so a
// failed call can simply be retried.
package transfer

import (
	"context"
	"path"

	"go.uber.org/zap"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
)

// Client uploads files to a remote collection.
type Client interface {
	// Upload sends files in order and returns them once all succeeded.
	Upload(ctx context.Context, files []string, collection string) ([]string, error)
	// Target describes the remote collection for log messages.
	Target(collection string) string
}

// Factory builds a Client from the current settings. The pipeline calls it
// once per run so settings edits apply on the next run.
type Factory func(settings config.Settings, log *zap.SugaredLogger) (Client, error)

// New builds the client selected by settings.transfer.
func New(settings config.Settings, log *zap.SugaredLogger) (Client, error) {
	switch settings.Transfer {
	case "", config.TransferSFTP:
		return NewSFTP(settings.SFTP, log), nil
	case config.TransferS3:
		if settings.S3 == nil {
			return nil, errors.NewInvalidRequestError("settings.s3 is required for s3 transfers")
		}
		return NewS3(*settings.S3, settings.SFTP.Prefix, log)
	}
	return nil, errors.NewInvalidRequestError("unknown transfer kind %q", string(settings.Transfer))
}

// RemoteDir returns <prefix>/<collection> in slash form.
func RemoteDir(prefix, collection string) string {
	if prefix == "" {
		return collection
	}
	return path.Join(prefix, collection)
}
