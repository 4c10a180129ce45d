package es

import (
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/aggstore/core/cache"
)

// IDGenerator produces envelope ids.
type IDGenerator func() string

func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

type (
	repoOpts struct {
		snapshotter Snapshotter
		cache       cache.Cache
		saveOpts    []SaveOption
		loadOpts    []LoadOption
		idGenerator IDGenerator
		metrics     ESMetrics
		rules       *Rules
		stateStore  StateStore
		publisher   Publisher
		recoverer   ArchiveRecoverer
	}

	// accessOpts controls a single load or save.
	accessOpts struct {
		snapshot bool
		useCache bool
	}
	repoSaveOptions accessOpts
	repoLoadOptions accessOpts

	// repoLoadAndSaveOpts carries per-call options for calls that both load
	// and save.
	repoLoadAndSaveOpts struct {
		loadOpts []LoadOption
		saveOpts []SaveOption
	}

	repoWithTransactionOpts struct {
		create bool
		repoLoadAndSaveOpts
	}
)

type (
	RepositoryOption      interface{ applyToRepository(*repoOpts) }
	RepoCacheOption       valueOption[cache.Cache]
	RepoCreateOption      valueOption[bool]
	RepoUseCacheOption    valueOption[bool]
	SaveOptsOption        MultiOption[SaveOption]
	LoadOptsOption        MultiOption[LoadOption]
	RepoIDGeneratorOption valueOption[IDGenerator]

	SaveOption            interface{ applyToSaveOptions(*repoSaveOptions) }
	LoadOption            interface{ applyToLoadOptions(*repoLoadOptions) }
	LoadAndSaveOption     interface{ applyToLoadAndSaveOptions(*repoLoadAndSaveOpts) }
	WithTransactionOption interface {
		applyToWithTransactionOptions(*repoWithTransactionOpts)
	}
)

// WithCreate makes WithTransaction create the aggregate if it does not exist.
func WithCreate() RepoCreateOption { return RepoCreateOption{v: true} }

// WithRepoCache caches loaded aggregates as snapshots in c.
func WithRepoCache(c cache.Cache) RepoCacheOption { return RepoCacheOption{v: c} }
func WithRepoCacheLRU(size int) RepoCacheOption {
	return WithRepoCache(cache.NewLRU(cache.LRUOpts{Size: size}))
}
func WithIDGenerator(gen IDGenerator) RepoIDGeneratorOption {
	return RepoIDGeneratorOption{v: gen}
}
func WithSaveOpts(opts ...SaveOption) SaveOptsOption { return SaveOptsOption{opts: opts} }
func WithLoadOpts(opts ...LoadOption) LoadOptsOption { return LoadOptsOption{opts: opts} }
func WithUseCache(useCache bool) RepoUseCacheOption  { return RepoUseCacheOption{v: useCache} }

// repository

func (o SnapshotterOption) applyToRepository(r *repoOpts)     { r.snapshotter = o.v }
func (o RepoCacheOption) applyToRepository(r *repoOpts)       { r.cache = o.v }
func (o RepoIDGeneratorOption) applyToRepository(r *repoOpts) { r.idGenerator = o.v }
func (o RulesOption) applyToRepository(r *repoOpts)           { r.rules = o.v }
func (o StateStoreOption) applyToRepository(r *repoOpts)      { r.stateStore = o.v }
func (o PublisherOption) applyToRepository(r *repoOpts)       { r.publisher = o.v }
func (o RecovererOption) applyToRepository(r *repoOpts)       { r.recoverer = o.v }
func (o SaveOptsOption) applyToRepository(r *repoOpts)        { r.saveOpts = append(r.saveOpts, o.opts...) }
func (o LoadOptsOption) applyToRepository(r *repoOpts)        { r.loadOpts = append(r.loadOpts, o.opts...) }

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	r := repoOpts{
		cache:       cache.NewNop(),
		saveOpts:    []SaveOption{WithUseCache(true)},
		loadOpts:    []LoadOption{WithUseCache(true), WithSnapshot(true)},
		idGenerator: DefaultIDGenerator(),
	}
	for _, opt := range opts {
		opt.applyToRepository(&r)
	}
	if r.metrics == nil {
		r.metrics = NopESMetrics()
	}
	return r
}

// single load / save

func (o SnapshotOption) applyToSaveOptions(s *repoSaveOptions)     { s.snapshot = o.v }
func (o RepoUseCacheOption) applyToSaveOptions(s *repoSaveOptions) { s.useCache = o.v }
func (o SaveOptsOption) applyToSaveOptions(s *repoSaveOptions) {
	for _, opt := range o.opts {
		opt.applyToSaveOptions(s)
	}
}

func (o SnapshotOption) applyToLoadOptions(l *repoLoadOptions)     { l.snapshot = o.v }
func (o RepoUseCacheOption) applyToLoadOptions(l *repoLoadOptions) { l.useCache = o.v }
func (o LoadOptsOption) applyToLoadOptions(l *repoLoadOptions) {
	for _, opt := range o.opts {
		opt.applyToLoadOptions(l)
	}
}

// newSaveOptions applies base before opts, so per-call options win.
func newSaveOptions(base []SaveOption, opts ...SaveOption) repoSaveOptions {
	var s repoSaveOptions
	for _, opt := range append(base[:len(base):len(base)], opts...) {
		opt.applyToSaveOptions(&s)
	}
	return s
}

func newLoadOptions(base []LoadOption, opts ...LoadOption) repoLoadOptions {
	var l repoLoadOptions
	for _, opt := range append(base[:len(base):len(base)], opts...) {
		opt.applyToLoadOptions(&l)
	}
	return l
}

// load and save

// bothWays is an option that applies to the load and the save half alike.
type bothWays interface {
	SaveOption
	LoadOption
}

func (ls *repoLoadAndSaveOpts) both(o bothWays) {
	ls.loadOpts = append(ls.loadOpts, o)
	ls.saveOpts = append(ls.saveOpts, o)
}

func (o SnapshotOption) applyToLoadAndSaveOptions(ls *repoLoadAndSaveOpts)     { ls.both(o) }
func (o RepoUseCacheOption) applyToLoadAndSaveOptions(ls *repoLoadAndSaveOpts) { ls.both(o) }
func (o LoadOptsOption) applyToLoadAndSaveOptions(ls *repoLoadAndSaveOpts) {
	ls.loadOpts = append(ls.loadOpts, o.opts...)
}
func (o SaveOptsOption) applyToLoadAndSaveOptions(ls *repoLoadAndSaveOpts) {
	ls.saveOpts = append(ls.saveOpts, o.opts...)
}

func newLoadAndSaveOptions(opts ...LoadAndSaveOption) repoLoadAndSaveOpts {
	var ls repoLoadAndSaveOpts
	for _, opt := range opts {
		opt.applyToLoadAndSaveOptions(&ls)
	}
	return ls
}

func (o SnapshotOption) applyToWithTransactionOptions(tx *repoWithTransactionOpts) {
	o.applyToLoadAndSaveOptions(&tx.repoLoadAndSaveOpts)
}
func (o RepoUseCacheOption) applyToWithTransactionOptions(tx *repoWithTransactionOpts) {
	o.applyToLoadAndSaveOptions(&tx.repoLoadAndSaveOpts)
}
func (o SaveOptsOption) applyToWithTransactionOptions(tx *repoWithTransactionOpts) {
	o.applyToLoadAndSaveOptions(&tx.repoLoadAndSaveOpts)
}
func (o LoadOptsOption) applyToWithTransactionOptions(tx *repoWithTransactionOpts) {
	o.applyToLoadAndSaveOptions(&tx.repoLoadAndSaveOpts)
}
func (o RepoCreateOption) applyToWithTransactionOptions(tx *repoWithTransactionOpts) {
	tx.create = o.v
}

func newWithTransactionOptions(opts ...WithTransactionOption) repoWithTransactionOpts {
	var tx repoWithTransactionOpts
	for _, opt := range opts {
		opt.applyToWithTransactionOptions(&tx)
	}
	return tx
}
