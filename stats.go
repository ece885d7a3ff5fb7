package cannode

import "fmt"

type Stats struct {
	Received      uint64
	Sent          uint64
	ReadErrors    uint64
	SendErrors    uint64
	DisplayErrors uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("recv: %d sent: %d read errors: %d send errors: %d display errors: %d",
		st.Received, st.Sent, st.ReadErrors, st.SendErrors, st.DisplayErrors)
}
