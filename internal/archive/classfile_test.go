package archive

import (
	"testing"

	"github.com/jar-analysis/jar-analysis-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseClass 测试常量池与成员表解析
func TestParseClass(t *testing.T) {
	data := testutil.BuildClass(testutil.ClassSpec{
		Name:       "net/example/mod/Stealer",
		Super:      "java/lang/Thread",
		Strings:    []string{"https://discord.com/api/webhooks/1/abc", "token"},
		MemberRefs: []string{"java/net/URL.openConnection", "java/lang/Runtime.exec"},
		Fields:     []string{"a"},
		Methods:    []string{"run", "b"},
	})

	info, err := ParseClass(data)
	require.NoError(t, err)

	assert.Equal(t, 52, info.MajorVersion)
	assert.Equal(t, "net/example/mod/Stealer", info.ClassName)
	assert.Equal(t, "Stealer", info.SimpleName())
	assert.Equal(t, "java/lang/Thread", info.SuperName)
	assert.Equal(t, []string{"https://discord.com/api/webhooks/1/abc", "token"}, info.Strings)
	assert.Equal(t, []string{"java/net/URL.openConnection", "java/lang/Runtime.exec"}, info.MemberRefs)
	assert.Contains(t, info.ClassRefs, "java/net/URL")
	assert.Equal(t, []string{"a"}, info.Fields)
	assert.Equal(t, []string{"run", "b"}, info.Methods)
}

// TestParseClass_Malformed 测试损坏的类文件
func TestParseClass_Malformed(t *testing.T) {
	valid := testutil.BuildClass(testutil.ClassSpec{Name: "a/B", Methods: []string{"x"}})

	cases := map[string][]byte{
		"empty":     {},
		"bad magic": []byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 52},
		"truncated": valid[:len(valid)/2],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClass(data)
			assert.ErrorIs(t, err, ErrMalformedClass)
		})
	}
}
