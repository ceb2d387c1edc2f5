package main

// @title Agent Bridge APIs
// @version 1.0
// @description Bridges LINE chat users to a streaming agent backend.

// @host localhost:9089
// @BasePath /
// @schemes http
import (
	_ "agent-bridge/docs"
	protocol "agent-bridge/protocal"

	"github.com/sirupsen/logrus"
)

func main() {
	err := protocol.ServeHTTP()
	if err != nil {
		logrus.Println(err)
	}
}
