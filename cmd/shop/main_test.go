package main

import (
	"testing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	oldLevel := log.GetLevel()
	defer log.SetLevel(oldLevel)

	tests := []struct {
		level     string
		wantLevel log.Level
		wantGin   string
	}{
		{level: "debug", wantLevel: log.DebugLevel, wantGin: gin.DebugMode},
		{level: "warn", wantLevel: log.WarnLevel, wantGin: gin.ReleaseMode},
		{level: "nonsense", wantLevel: log.InfoLevel, wantGin: gin.ReleaseMode},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			setupLogger(tt.level)
			if log.GetLevel() != tt.wantLevel {
				t.Fatalf("unexpected log level: got %s want %s", log.GetLevel(), tt.wantLevel)
			}
			if gin.Mode() != tt.wantGin {
				t.Fatalf("unexpected gin mode: got %s want %s", gin.Mode(), tt.wantGin)
			}
		})
	}
}
