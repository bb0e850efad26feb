/*
Package monitoring provides metrics collection for the terminal server.

# Overview

Each Metrics value owns a private Prometheus registry. It tracks HTTP
requests, terminal sessions, control commands, relayed bytes, and WebSocket
connections.

# Usage

	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Time a control side effect
	timer := monitoring.NewTimer(metrics)
	// ... apply the side effect ...
	timer.Stop("SPOOL", false)

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
