package config

import "gopkg.in/yaml.v3"

// Options is the immutable run configuration every component consumes. The
// master serializes it verbatim to each agent, so the CBOR tags are part of
// the coordination wire format: append new fields, never renumber.
type Options struct {
	Servers []string `yaml:"servers" cbor:"1,keyasint"`
	Agents  []string `yaml:"agents" cbor:"2,keyasint"`

	Binary bool `yaml:"binary" cbor:"3,keyasint"`
	Redis  bool `yaml:"redis" cbor:"4,keyasint"`

	QPS     int     `yaml:"qps" cbor:"5,keyasint"`
	Time    int     `yaml:"time" cbor:"6,keyasint"`
	Threads int     `yaml:"threads" cbor:"7,keyasint"`
	Conns   int     `yaml:"connections" cbor:"8,keyasint"`
	Depth   int     `yaml:"depth" cbor:"9,keyasint"`
	Records uint64  `yaml:"records" cbor:"10,keyasint"`
	Update  float64 `yaml:"update" cbor:"11,keyasint"`
	Queries int64   `yaml:"queries" cbor:"12,keyasint"`

	KeySize   string `yaml:"keysize" cbor:"13,keyasint"`
	ValueSize string `yaml:"valuesize" cbor:"14,keyasint"`
	IADist    string `yaml:"iadist" cbor:"15,keyasint"`

	Warmup int `yaml:"warmup" cbor:"16,keyasint"`
	Wait   int `yaml:"wait" cbor:"17,keyasint"`

	NoLoad     bool `yaml:"noload" cbor:"18,keyasint"`
	LoadOnly   bool `yaml:"loadonly" cbor:"19,keyasint"`
	Blocking   bool `yaml:"blocking" cbor:"20,keyasint"`
	NoNodelay  bool `yaml:"no_nodelay" cbor:"21,keyasint"`
	RoundRobin bool `yaml:"roundrobin" cbor:"22,keyasint"`
	Moderate   bool `yaml:"moderate" cbor:"23,keyasint"`
	Skip       bool `yaml:"skip" cbor:"24,keyasint"`
	Affinity   bool `yaml:"affinity" cbor:"25,keyasint"`
	UnixSocket bool `yaml:"unix_socket" cbor:"26,keyasint"`

	SavePath string `yaml:"save" cbor:"27,keyasint"`
	Scan     string `yaml:"scan" cbor:"28,keyasint"`
	Search   string `yaml:"search" cbor:"29,keyasint"`

	AgentMode bool `yaml:"agentmode" cbor:"30,keyasint"`
	AgentPort int  `yaml:"agent_port" cbor:"31,keyasint"`
	LambdaMul int  `yaml:"lambda_mul" cbor:"32,keyasint"`

	MeasureConnections int `yaml:"measure_connections" cbor:"33,keyasint"`
	MeasureQPS         int `yaml:"measure_qps" cbor:"34,keyasint"`
	MeasureDepth       int `yaml:"measure_depth" cbor:"35,keyasint"`

	SASL     bool   `yaml:"sasl" cbor:"36,keyasint"`
	Username string `yaml:"username" cbor:"37,keyasint"`
	Password string `yaml:"password" cbor:"38,keyasint"`

	ReadFile     string `yaml:"read_file" cbor:"39,keyasint"`
	TwitterTrace int    `yaml:"twitter_trace" cbor:"40,keyasint"`
	GetSet       bool   `yaml:"getset" cbor:"41,keyasint"`
	GetSetOrSet  bool   `yaml:"getsetorset" cbor:"42,keyasint"`

	MissWindow        uint64 `yaml:"misswindow" cbor:"43,keyasint"`
	Prefix            string `yaml:"prefix" cbor:"44,keyasint"`
	SuccessfulQueries bool   `yaml:"successful_queries" cbor:"45,keyasint"`
	ItemLocks         bool   `yaml:"itemlocks" cbor:"46,keyasint"`

	Verbose int  `yaml:"verbose" cbor:"47,keyasint"`
	Quiet   bool `yaml:"quiet" cbor:"48,keyasint"`

	// Derived at coordination time, never set directly.
	LambdaDenom int     `yaml:"-" cbor:"49,keyasint"`
	Lambda      float64 `yaml:"-" cbor:"50,keyasint"`
}

// YAML renders the effective options for debug logging and for writing a
// reusable config file.
func (o *Options) YAML() (string, error) {
	b, err := yaml.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// TraceMode reports whether ops come from a trace feed rather than the
// synthetic mix.
func (o *Options) TraceMode() bool {
	return o.ReadFile != ""
}

// ConnectionsPerThread is the per-server connection count one worker owns.
func (o *Options) ConnectionsPerThread() int {
	if o.Conns <= 0 {
		return 1
	}
	return o.Conns
}

// TotalConnections is this process's contribution to the lambda denominator.
func (o *Options) TotalConnections() int {
	return o.Threads * o.ConnectionsPerThread() * len(o.Servers)
}

// DeriveLambda splits the aggregate qps across the federation: each
// connection runs at qps / lambda_denom x lambda_mul.
func (o *Options) DeriveLambda(denom int) {
	o.LambdaDenom = denom
	if denom <= 0 || o.QPS <= 0 {
		o.Lambda = 0
		return
	}
	o.Lambda = float64(o.QPS) / float64(denom) * float64(o.LambdaMul)
}
