package env

import (
	"testing"

	"go.chromium.org/luci/common/system/environ"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

func TestEnvironment(t *testing.T) {
	t.Parallel()

	ftt.Run("Environment", t, func(t *ftt.Test) {
		e := New(ModeDev)
		e.Set("DB_URL", "localhost:5432", ModeDev, ModeTest)
		e.Set("API_KEY", "test-key-123", ModeTest)
		e.Set("PROD_SECRET", "secret-123", ModeProd)
		e.Set("APP_NAME", "TestApp")

		t.Run("shared variables are visible everywhere", func(t *ftt.Test) {
			for _, m := range Modes {
				v, ok, err := e.GetIn(m, "APP_NAME")
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, ok, should.BeTrue)
				assert.That(t, v, should.Equal("TestApp"))
			}
		})

		t.Run("scoped variables", func(t *ftt.Test) {
			v, ok, err := e.Get("DB_URL")
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, ok, should.BeTrue)
			assert.That(t, v, should.Equal("localhost:5432"))

			_, _, err = e.Get("API_KEY")
			assert.Loosely(t, err, should.ErrLike(ErrMode))

			e.SetMode(ModeTest)
			v, _, err = e.Get("API_KEY")
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, v, should.Equal("test-key-123"))

			_, _, err = e.GetIn(ModeStage, "DB_URL")
			assert.Loosely(t, err, should.ErrLike(ErrMode))
		})

		t.Run("missing variables", func(t *ftt.Test) {
			_, ok, err := e.Get("UNDEFINED")
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, ok, should.BeFalse)

			v, err := e.GetOr("UNDEFINED", "default")
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, v, should.Equal("default"))
		})

		t.Run("Set replaces values in other modes", func(t *ftt.Test) {
			e.Set("DB_URL", "shared")
			v, _, err := e.GetIn(ModeProd, "DB_URL")
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, v, should.Equal("shared"))
			assert.Loosely(t, e.Contains("DB_URL"), should.BeTrue)
			assert.Loosely(t, e.ModeVariables(), should.Match(map[string]string{}))
		})

		t.Run("Delete", func(t *ftt.Test) {
			e.Delete("DB_URL", ModeDev)
			_, _, err := e.Get("DB_URL")
			assert.Loosely(t, err, should.ErrLike(ErrMode))

			v, ok, err := e.GetIn(ModeTest, "DB_URL")
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, ok, should.BeTrue)
			assert.That(t, v, should.Equal("localhost:5432"))

			e.Delete("APP_NAME")
			assert.Loosely(t, e.Contains("APP_NAME"), should.BeFalse)
		})

		t.Run("Keys and ModeVariables", func(t *ftt.Test) {
			assert.Loosely(t, e.Keys(), should.Match([]string{"API_KEY", "APP_NAME", "DB_URL", "PROD_SECRET"}))
			assert.Loosely(t, e.ModeVariables(), should.Match(map[string]string{"DB_URL": "localhost:5432"}))
		})

		t.Run("Snapshot and Rollback", func(t *ftt.Test) {
			snap := e.Snapshot()
			e.Set("APP_NAME", "Other")
			e.Delete("DB_URL")
			e.Rollback(snap)

			v, _, err := e.Get("APP_NAME")
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, v, should.Equal("TestApp"))
			v, _, err = e.Get("DB_URL")
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, v, should.Equal("localhost:5432"))
		})
	})
}

func TestFromEnviron(t *testing.T) {
	t.Parallel()

	ftt.Run("FromEnviron", t, func(t *ftt.Test) {
		src := environ.New([]string{
			"PORT=8080",
			"DEV_PORT=9090",
			"TRUESTORAGE_MAX_SIZE=10",
		})

		dev := FromEnviron(ModeDev, src)
		v, _, err := dev.Get("PORT")
		assert.Loosely(t, err, should.BeNil)
		assert.That(t, v, should.Equal("9090"))

		prod := FromEnviron(ModeProd, src)
		v, _, err = prod.Get("PORT")
		assert.Loosely(t, err, should.BeNil)
		assert.That(t, v, should.Equal("8080"))

		assert.Loosely(t, prod.Keys(), should.Match([]string{"PORT", "TRUESTORAGE_MAX_SIZE"}))
	})
}

func TestModes(t *testing.T) {
	t.Parallel()

	ftt.Run("modes", t, func(t *ftt.Test) {
		t.Run("ParseMode", func(t *ftt.Test) {
			m, err := ParseMode(" Prod ")
			assert.Loosely(t, err, should.BeNil)
			assert.That(t, m, should.Equal(ModeProd))

			_, err = ParseMode("qa")
			assert.Loosely(t, err, should.ErrLike(`unknown mode "qa"`))
		})

		t.Run("prefixes", func(t *ftt.Test) {
			assert.That(t, ModeStage.Key("FOO"), should.Equal("STAGE_FOO"))
			assert.That(t, ModeAll.Key("FOO"), should.Equal("FOO"))
			assert.Loosely(t, ModeTest.IsDevelopment(), should.BeTrue)
			assert.Loosely(t, ModeProd.IsDevelopment(), should.BeFalse)
		})

		t.Run("EnsureMode", func(t *ftt.Test) {
			assert.Loosely(t, EnsureMode(ModeDev, ModeDev, ModeTest), should.BeNil)
			assert.Loosely(t, EnsureMode(ModeProd, ModeAll), should.BeNil)
			assert.Loosely(t, EnsureMode(ModeProd, ModeDev, ModeTest), should.ErrLike(ErrMode))
		})
	})
}
