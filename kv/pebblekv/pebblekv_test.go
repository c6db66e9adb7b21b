package pebblekv_test

import (
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/structdb/kv/kvtest"
	"github.com/andreyvit/structdb/kv/pebblekv"
)

func TestPebbleEngine(t *testing.T) {
	logger := log.New()
	logger.SetOutput(io.Discard)

	e, err := pebblekv.Open(t.TempDir(), pebblekv.Options{Logger: logger})
	require.NoError(t, err)
	defer e.Close()

	kvtest.RunEngineTest(t, e)
}
