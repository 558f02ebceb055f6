//go:build !gst

package sampling

import "log/slog"

func openGst(launch string, skip int64, logger *slog.Logger) (Source, error) {
	return nil, ErrGstUnavailable
}
