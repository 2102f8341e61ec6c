package rudp

import (
	"os"
	"testing"

	"github.com/arloliu/go-udt/logger"
)

func TestMain(m *testing.M) {
	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	os.Exit(m.Run())
}
