// Package logging builds the structured logger used across quotaguard.
//
// The logger wraps log/slog with a handler that appends the admission fields
// stored in the context (request_id, tenant, resource, tier) and the active
// trace and span IDs. Components receive the *slog.Logger from Slog and log
// with the Context variants so those fields follow each request.
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//	ctx = logging.WithAdmission(ctx, requestID, tenant, model)
//	logger.InfoContext(ctx, "request denied", "tier", "global")
//
// The level is held in a slog.LevelVar so a configuration reload can change
// it without rebuilding loggers.
package logging
