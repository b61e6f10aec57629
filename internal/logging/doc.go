// Package logging provides structured logging for Caspian.
//
// Logs are JSON lines written through log/slog, either to stderr or to
// caspian.log inside the configured log directory, optionally rotated by
// size. Child loggers carry node, repository, and component context:
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithComponent("nodeinit").WithNode(nodeID)
//	log.Info("job started", "repository_id", repoID)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"job started","component":"nodeinit","node_id":"n1","repository_id":"r1"}
//
// Use [NopLogger] in tests and when logging is disabled in config.
package logging
