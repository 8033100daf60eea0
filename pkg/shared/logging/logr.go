package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// NewMeshLogger builds the logr.Logger backed by zap that the service mesh
// layer (C9-C13) uses, mirroring the controller-runtime ecosystem's logr convention.
func NewMeshLogger(development bool) (logr.Logger, error) {
	var zl *zap.Logger
	var err error
	if development {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}

// WithFields attaches a Fields set to a logr.Logger as key/value pairs.
func WithFields(log logr.Logger, f Fields) logr.Logger {
	kv := make([]interface{}, 0, len(f)*2)
	for k, v := range f {
		kv = append(kv, k, v)
	}
	return log.WithValues(kv...)
}
