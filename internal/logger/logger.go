package logger

import "go.uber.org/zap"

// New returns a JSON production logger, or a console logger outside
// production.
func New(appEnv string) *zap.Logger {
	if appEnv == "production" {
		return zap.Must(zap.NewProduction())
	}
	return zap.Must(zap.NewDevelopment())
}
