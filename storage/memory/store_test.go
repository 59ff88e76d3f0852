package memory

import (
	"testing"

	"github.com/pttracker/pttracker/storage"
)

func TestStore(t *testing.T) { storage.TestStore(t, New()) }
