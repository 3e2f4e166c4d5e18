// Package ipblocklist contains lists of networks which are consulted by
// the pipeline before any other stage.
//
// Lists use FireHOL format: one IP address or CIDR per line, # starts a
// comment. See https://iplists.firehol.org/.
package ipblocklist

import (
	"errors"
	"time"
)

const (
	// DefaultDownloadConcurrency is a number of lists which are fetched in
	// parallel.
	DefaultDownloadConcurrency = 2

	// DefaultUpdateEach is a period of list refreshing.
	DefaultUpdateEach = 24 * time.Hour

	// DefaultDownloadTimeout is a timeout of fetching a single remote list.
	DefaultDownloadTimeout = 30 * time.Second
)

var ErrNoSources = errors.New("no lists are defined")
