package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerPool(t *testing.T) {
	assert := assert.New(t)

	t.Run("Get and Put", func(t *testing.T) {
		timer1 := GetTimer(1 * time.Second)
		assert.NotNil(timer1)

		PutTimer(timer1)

		timer2 := GetTimer(20 * time.Millisecond)
		assert.NotNil(timer2)

		<-timer2.C
		PutTimer(timer2)
	})

	t.Run("Put Active Timer", func(t *testing.T) {
		timer1 := GetTimer(100 * time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		PutTimer(timer1)

		begin := time.Now()
		timer2 := GetTimer(200 * time.Millisecond)

		<-timer2.C
		assert.GreaterOrEqual(time.Since(begin), 190*time.Millisecond)
		PutTimer(timer2)
	})
}

func TestPacketPool(t *testing.T) {
	assert := assert.New(t)

	buf := GetPacket()
	assert.Len(*buf, PacketSize)

	*buf = (*buf)[:10]
	PutPacket(buf)

	buf = GetPacket()
	assert.Len(*buf, PacketSize)
	PutPacket(buf)

	small := make([]byte, 10)
	PutPacket(&small) // dropped silently
	PutPacket(nil)
}
