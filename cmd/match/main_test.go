package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ajenpan/surfmatch/server/match/conf"
)

func TestWriteTimeoutOutlastsPoll(t *testing.T) {
	c := conf.DefaultConf.Match
	assert.Greater(t, writeTimeout(&c), c.PollTimeout+c.UnknownGrace)

	c.PollTimeout = 2 * time.Minute
	assert.Greater(t, writeTimeout(&c), 2*time.Minute)
}
