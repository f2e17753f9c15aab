package main

import (
	"lms-calendar-api/core/logger"
	"lms-calendar-api/core/server"
)

func main() {
	if err := server.Run(); err != nil {
		logger.Error("run server error", err)
	}
}
