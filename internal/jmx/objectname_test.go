package jmx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
)

func TestParseObjectName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple", input: "java.lang:type=Memory"},
		{name: "two properties", input: "java.lang:type=MemoryPool,name=Eden Space"},
		{name: "value wildcard", input: "java.lang:type=GarbageCollector,name=*"},
		{name: "property list wildcard", input: "java.lang:type=GarbageCollector,*"},
		{name: "domain wildcard", input: "*:type=Foo"},
		{name: "quoted value", input: `d:name="a,b=c"`},
		{name: "missing colon", input: "java.lang", wantErr: true},
		{name: "empty properties", input: "java.lang:", wantErr: true},
		{name: "empty value", input: "java.lang:type=", wantErr: true},
		{name: "missing equals", input: "java.lang:type", wantErr: true},
		{name: "duplicate key", input: "d:type=a,type=b", wantErr: true},
		{name: "unterminated quote", input: `d:name="abc`, wantErr: true},
		{name: "wildcard in key", input: "d:ty*e=a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			on, err := ParseObjectName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, internalerrors.ErrMalformedObjectName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, on.String())
		})
	}
}

func TestObjectName_KeyPropertyOrder(t *testing.T) {
	on := MustParseObjectName("java.lang:type=MemoryPool,name=Eden")

	assert.Equal(t, "java.lang", on.Domain())
	assert.Equal(t, "type=MemoryPool,name=Eden", on.KeyPropertyListString())
	assert.Equal(t, "java.lang:name=Eden,type=MemoryPool", on.CanonicalName())

	v, ok := on.KeyProperty("name")
	assert.True(t, ok)
	assert.Equal(t, "Eden", v)
	_, ok = on.KeyProperty("missing")
	assert.False(t, ok)
}

func TestObjectName_Matches(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"java.lang:type=Memory", "java.lang:type=Memory", true},
		{"java.lang:type=Memory", "java.lang:type=Threading", false},
		{"java.lang:type=GarbageCollector,name=*", "java.lang:type=GarbageCollector,name=G1 Young Generation", true},
		{"java.lang:type=GarbageCollector,name=*", "java.lang:type=GarbageCollector", false},
		{"java.lang:type=MemoryPool,*", "java.lang:type=MemoryPool,name=Eden", true},
		{"java.lang:type=MemoryPool", "java.lang:type=MemoryPool,name=Eden", false},
		{"java.*:type=Memory", "java.lang:type=Memory", true},
		{"*:*", "anything:type=x", true},
		{"d:name=a?c", "d:name=abc", true},
		{"d:name=a?c", "d:name=abbc", false},
		{"d:name=[x]*", "d:name=[x]yz", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.name, func(t *testing.T) {
			p := MustParseObjectName(tt.pattern)
			n := MustParseObjectName(tt.name)
			assert.Equal(t, tt.want, p.Matches(n))
		})
	}
}

func TestObjectName_IsPattern(t *testing.T) {
	assert.False(t, MustParseObjectName("java.lang:type=Memory").IsPattern())
	assert.True(t, MustParseObjectName("java.lang:type=Memory,*").IsPattern())
	assert.True(t, MustParseObjectName("java.lang:name=*").IsPattern())
	assert.False(t, MustParseObjectName(`java.lang:name="*"`).IsPattern())
}

func TestObjectName_PatternKeys(t *testing.T) {
	assert.Equal(t, []string{"type", "name"}, MustParseObjectName("app:type=C?che,name=*,scope=x").PatternKeys())
	assert.Empty(t, MustParseObjectName(`java.lang:type=Memory,name="*",*`).PatternKeys())
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "plain", Unquote("plain"))
	assert.Equal(t, `a,"b`, Unquote(`"a,\"b"`))
}

func TestEnvironment(t *testing.T) {
	env := Environment{EnvCredentials: []string{"user", "secret"}, EnvSSL: true}
	user, pass, ok := env.Credentials()
	assert.True(t, ok)
	assert.Equal(t, "user", user)
	assert.Equal(t, "secret", pass)
	assert.True(t, env.SSL())
	assert.Equal(t, 3*time.Second, env.SocketTimeout(3*time.Second))

	vendor := Environment{EnvSecurityPrincipal: "weblogic", EnvSecurityCreds: "pw", EnvSocketTimeout: time.Second}
	user, pass, ok = vendor.Credentials()
	assert.True(t, ok)
	assert.Equal(t, "weblogic", user)
	assert.Equal(t, "pw", pass)
	assert.Equal(t, time.Second, vendor.SocketTimeout(3*time.Second))
}

func TestDial_ChoosesLongestPrefix(t *testing.T) {
	var used string
	RegisterDialer("test:", DialerFunc(func(ctx context.Context, u string, env Environment) (Connection, error) {
		used = "short"
		return nil, nil
	}))
	RegisterDialer("test:long:", DialerFunc(func(ctx context.Context, u string, env Environment) (Connection, error) {
		used = "long"
		return nil, nil
	}))

	_, err := Dial(context.Background(), "test:long:x", nil)
	require.NoError(t, err)
	assert.Equal(t, "long", used)

	_, err = Dial(context.Background(), "nothing:x", nil)
	assert.ErrorIs(t, err, internalerrors.ErrUnknownScheme)
}

func TestFromGo(t *testing.T) {
	v := FromGo(map[string]any{
		"b": int64(2),
		"a": []int{1, 2},
		"n": nil,
	})
	c, ok := v.(Composite)
	require.True(t, ok)
	require.Len(t, c.Fields, 3)
	assert.Equal(t, "a", c.Fields[0].Name)
	assert.Equal(t, Array{Elems: []Value{Scalar{V: 1}, Scalar{V: 2}}}, c.Fields[0].Value)
	assert.Equal(t, Scalar{V: int64(2)}, c.Fields[1].Value)
	assert.Equal(t, Null{}, c.Fields[2].Value)

	m, ok := FromGo(map[int]string{2: "b", 1: "a"}).(Mapping)
	require.True(t, ok)
	assert.Equal(t, Scalar{V: 1}, m.Entries[0].Key)
}

func TestFromGo_BytesAreIndexed(t *testing.T) {
	assert.Equal(t, Array{Elems: []Value{Scalar{V: uint8(7)}, Scalar{V: uint8(9)}}}, FromGo([]byte{7, 9}))
}

func TestIsClassNotFound(t *testing.T) {
	assert.True(t, IsClassNotFound(&UnmarshalError{Cause: ErrClassNotFound}))
	assert.False(t, IsClassNotFound(&UnmarshalError{Cause: assert.AnError}))
	assert.False(t, IsClassNotFound(ErrClassNotFound))
}
