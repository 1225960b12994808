// session_options.go - Optionen für neue Sessions
// Enthält: SessionOptions, Config und die ConfigProto-Kodierung

package tf

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ollama/tfbind/envconfig"
	"github.com/ollama/tfbind/native"
)

// Feldnummern aus tensorflow/core/protobuf/config.proto
const (
	configIntraOpThreads     protowire.Number = 2
	configInterOpThreads     protowire.Number = 5
	configAllowSoftPlacement protowire.Number = 7
	configLogDevicePlacement protowire.Number = 8
)

// Config ist der unterstützte Teil von tensorflow.ConfigProto
type Config struct {
	// 0 überlässt die Wahl der Runtime
	IntraOpThreads int32
	InterOpThreads int32

	AllowSoftPlacement bool
	LogDevicePlacement bool
}

// Marshal kodiert die Konfiguration als ConfigProto. Nullwerte werden wie
// bei proto3 ausgelassen.
func (c Config) Marshal() []byte {
	var b []byte
	varint := func(num protowire.Number, v uint64) {
		if v == 0 {
			return
		}
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}

	varint(configIntraOpThreads, uint64(c.IntraOpThreads))
	varint(configInterOpThreads, uint64(c.InterOpThreads))
	varint(configAllowSoftPlacement, protowire.EncodeBool(c.AllowSoftPlacement))
	varint(configLogDevicePlacement, protowire.EncodeBool(c.LogDevicePlacement))
	return b
}

// SessionOptions konfiguriert NewSession
type SessionOptions struct {
	// Target ist die Adresse der Ausführungs-Engine, leer für lokal
	Target string
	Config Config
}

// DefaultSessionOptions liest die Thread-Vorgaben aus der Umgebung
func DefaultSessionOptions() *SessionOptions {
	return &SessionOptions{
		Config: Config{
			IntraOpThreads: envconfig.IntraOpThreads(),
			InterOpThreads: envconfig.InterOpThreads(),
		},
	}
}

// newNative erstellt die nativen Optionen. Der Aufrufer gibt sie nach
// NewSession frei.
func (o *SessionOptions) newNative(rt *Runtime) (*guard, error) {
	api := rt.api
	g := rt.newGuard(KindSessionOptions, api.NewSessionOptions(), 0, func(h native.Handle) error {
		api.DeleteSessionOptions(h)
		return nil
	})

	err := g.borrowMut(func(h native.Handle) error {
		if o.Target != "" {
			api.SetTarget(h, o.Target)
		}
		if proto := o.Config.Marshal(); len(proto) > 0 {
			return rt.withStatus("SetConfig", func(st native.Handle) {
				api.SetConfig(h, proto, st)
			})
		}
		return nil
	})
	if err != nil {
		g.close()
		return nil, err
	}
	return g, nil
}
