package memory

import (
	"testing"

	"github.com/heartmarshall/fedrecords/internal/adapter/storetest"
	"github.com/heartmarshall/fedrecords/internal/records"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) records.Store { return NewStore() })
}
