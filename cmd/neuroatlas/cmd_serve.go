// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/NeuroAtlas/cmd/neuroatlas/config"
	"github.com/AleutianAI/NeuroAtlas/pkg/logging"
)

var servePortFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the subject index over HTTP",
	Long: `Serve exposes the generated index document at /api/index, a health
probe at /health, and Prometheus metrics at /metrics. The index file is
watched and reloaded when a sync or index run replaces it.`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePortFlag, "port", 0,
		"listen port (overrides config)")
}

// indexDocument holds the served index bytes behind a lock so reloads
// never race requests.
type indexDocument struct {
	mu   sync.RWMutex
	data []byte
}

func (d *indexDocument) set(data []byte) {
	d.mu.Lock()
	d.data = data
	d.mu.Unlock()
}

func (d *indexDocument) get() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.data
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := config.Global

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "neuroatlas-serve",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	defer logger.Close()

	port := cfg.Serve.Port
	if servePortFlag > 0 {
		port = servePortFlag
	}

	doc := &indexDocument{}
	if data, err := os.ReadFile(cfg.Index.OutputPath); err == nil {
		doc.set(data)
	} else {
		logger.Warn("index file not readable yet, serving 404 until it appears",
			"path", cfg.Index.OutputPath, "error", err.Error())
	}

	stopWatch, err := watchIndexFile(cfg.Index.OutputPath, doc, logger)
	if err != nil {
		logger.Warn("index file watch unavailable, reloads disabled", "error", err.Error())
	} else {
		defer stopWatch()
	}

	router := newRouter(doc)

	addr := fmt.Sprintf(":%d", port)
	logger.Info("serving index", "addr", addr, "index", cfg.Index.OutputPath)
	if err := router.Run(addr); err != nil {
		logger.Error("server stopped", "error", err.Error())
		os.Exit(1)
	}
}

func newRouter(doc *indexDocument) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/index", func(c *gin.Context) {
		data := doc.get()
		if data == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "index not generated yet"})
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// watchIndexFile reloads doc whenever the index file is replaced. The
// watch is on the parent directory because atomic writes rename a temp
// file over the target, which drops a watch held on the file itself.
func watchIndexFile(path string, doc *indexDocument, logger *logging.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				data, err := os.ReadFile(target)
				if err != nil {
					logger.Warn("index reload failed", "error", err.Error())
					continue
				}
				doc.set(data)
				logger.Info("index reloaded", "bytes", len(data))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("index watch error", "error", err.Error())
			}
		}
	}()
	return func() { watcher.Close() }, nil
}
