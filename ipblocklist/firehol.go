package ipblocklist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/reqguard/reqguard/guardlib"
	"github.com/yl2chen/cidranger"
)

// Firehol is an IP list which is built from local files and remote URLs.
// It is refreshed periodically if Run is called.
type Firehol struct {
	ctx       context.Context
	ctxCancel context.CancelFunc
	logger    guardlib.Logger

	rwMutex sync.RWMutex
	ranger  cidranger.Ranger
	size    int

	httpClient  *http.Client
	remoteURLs  []string
	localFiles  []string
	workerPool  *ants.Pool
	updateCount func(size int)
}

// Contains implements guardlib.IPBlocklist.
func (f *Firehol) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}

	f.rwMutex.RLock()
	defer f.rwMutex.RUnlock()

	ok, err := f.ranger.Contains(ip)
	if err != nil {
		f.logger.BindStr("ip", ip.String()).DebugError("cannot check ip", err)
	}

	return ok
}

// Size returns a number of networks in the list.
func (f *Firehol) Size() int {
	f.rwMutex.RLock()
	defer f.rwMutex.RUnlock()

	return f.size
}

// Run refreshes the list each updateEach until Shutdown is called. It
// blocks.
func (f *Firehol) Run(updateEach time.Duration) {
	if updateEach <= 0 {
		updateEach = DefaultUpdateEach
	}

	ticker := time.NewTicker(updateEach)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			if err := f.Update(); err != nil {
				f.logger.WarningError("cannot update list, keep the old one", err)
			}
		}
	}
}

// Shutdown implements guardlib.IPBlocklist.
func (f *Firehol) Shutdown() {
	f.ctxCancel()
	f.workerPool.Release()
}

// Update fetches all lists and replaces the current one. A list stays
// unchanged if any source fails.
func (f *Firehol) Update() error {
	ranger := cidranger.NewPCTrieRanger()
	mutex := &sync.Mutex{}
	errs := make([]error, len(f.localFiles)+len(f.remoteURLs))
	wg := &sync.WaitGroup{}
	size := 0

	process := func(idx int, name string, open func() (io.ReadCloser, error)) {
		defer wg.Done()

		reader, err := open()
		if err != nil {
			errs[idx] = fmt.Errorf("cannot open %s: %w", name, err)

			return
		}

		defer reader.Close()

		networks, err := parseList(reader)
		if err != nil {
			errs[idx] = fmt.Errorf("cannot parse %s: %w", name, err)

			return
		}

		mutex.Lock()
		defer mutex.Unlock()

		for _, network := range networks {
			ranger.Insert(cidranger.NewBasicRangerEntry(network)) //nolint: errcheck
		}

		size += len(networks)

		f.logger.BindStr("source", name).BindInt("networks", len(networks)).Debug("list is loaded")
	}

	for i, path := range f.localFiles {
		wg.Add(1)

		idx := i

		if err := f.workerPool.Submit(func() {
			process(idx, path, func() (io.ReadCloser, error) { return os.Open(path) })
		}); err != nil {
			wg.Done()

			errs[idx] = err
		}
	}

	for i, url := range f.remoteURLs {
		wg.Add(1)

		idx := len(f.localFiles) + i

		if err := f.workerPool.Submit(func() {
			process(idx, url, func() (io.ReadCloser, error) { return f.download(url) })
		}); err != nil {
			wg.Done()

			errs[idx] = err
		}
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	f.rwMutex.Lock()
	f.ranger = ranger
	f.size = size
	f.rwMutex.Unlock()

	if f.updateCount != nil {
		f.updateCount(size)
	}

	f.logger.BindInt("size", size).Info("ip list is updated")

	return nil
}

func (f *Firehol) download(url string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(f.ctx, DefaultDownloadTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("cannot build a request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("cannot fetch a list: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint: errcheck
		resp.Body.Close()
		cancel()

		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	return cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelReadCloser) Close() error {
	defer c.cancel()

	return c.ReadCloser.Close() //nolint: wrapcheck
}

func parseList(reader io.Reader) ([]net.IPNet, error) {
	scanner := bufio.NewScanner(reader)
	rv := []net.IPNet{}

	for scanner.Scan() {
		line := scanner.Text()

		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		network, err := parseNetwork(line)
		if err != nil {
			return nil, err
		}

		rv = append(rv, network)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read a list: %w", err)
	}

	return rv, nil
}

func parseNetwork(value string) (net.IPNet, error) {
	if strings.ContainsRune(value, '/') {
		_, network, err := net.ParseCIDR(value)
		if err != nil {
			return net.IPNet{}, fmt.Errorf("incorrect cidr %s: %w", value, err)
		}

		return *network, nil
	}

	ip := net.ParseIP(value)
	if ip == nil {
		return net.IPNet{}, fmt.Errorf("incorrect ip %s", value)
	}

	if ipv4 := ip.To4(); ipv4 != nil {
		return net.IPNet{IP: ipv4, Mask: net.CIDRMask(32, 32)}, nil //nolint: gomnd
	}

	return net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil //nolint: gomnd
}

// FireholOpts is a set of options of the list.
type FireholOpts struct {
	Logger     guardlib.Logger
	HTTPClient *http.Client

	RemoteURLs []string
	LocalFiles []string

	// DownloadConcurrency is a number of sources which are fetched in
	// parallel.
	DownloadConcurrency uint

	// OnUpdate is called with a new size of the list.
	OnUpdate func(size int)
}

// NewFirehol builds a list and loads it once. It fails if any source
// cannot be loaded.
func NewFirehol(opts FireholOpts) (*Firehol, error) {
	if opts.Logger == nil {
		return nil, guardlib.ErrLoggerIsNotDefined
	}

	if len(opts.RemoteURLs)+len(opts.LocalFiles) == 0 {
		return nil, ErrNoSources
	}

	concurrency := opts.DownloadConcurrency
	if concurrency == 0 {
		concurrency = DefaultDownloadConcurrency
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	workerPool, err := ants.NewPool(int(concurrency))
	if err != nil {
		return nil, fmt.Errorf("cannot create a worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	list := &Firehol{
		ctx:         ctx,
		ctxCancel:   cancel,
		logger:      opts.Logger.Named("ipblocklist"),
		ranger:      cidranger.NewPCTrieRanger(),
		httpClient:  httpClient,
		remoteURLs:  opts.RemoteURLs,
		localFiles:  opts.LocalFiles,
		workerPool:  workerPool,
		updateCount: opts.OnUpdate,
	}

	if err := list.Update(); err != nil {
		list.Shutdown()

		return nil, err
	}

	return list, nil
}
