// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	catset "github.com/anatolykoptev/go-catset"
)

// setDefaultConfig registers default values on v.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("imageext", catset.DefaultImageExt)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("source.kind", catset.SourceReddit)
	v.SetDefault("source.id", "")
	v.SetDefault("source.posts", catset.DefaultPostsToParse)
	v.SetDefault("source.periteration", catset.DefaultMaxPostsInIteration)
	v.SetDefault("source.batchdelay", catset.DefaultBatchDelay.String())
	v.SetDefault("source.requestspersecond", 2.0)
	v.SetDefault("source.reddit.useragent", catset.DefaultUserAgent)
	v.SetDefault("source.vk.apiversion", "5.199")
	v.SetDefault("source.telegram.maxpages", 50)

	v.SetDefault("llm.provider", "deepseek")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.01)
	v.SetDefault("llm.language", "ru")
	v.SetDefault("llm.maxretries", 3)
	v.SetDefault("llm.classifydelay", catset.DefaultClassifyDelay.String())
	v.SetDefault("llm.cachettl", (24 * time.Hour).String())

	v.SetDefault("detector.modelpath", "models/yolo.tflite")
	v.SetDefault("detector.confidence", catset.DefaultConfidence)
	v.SetDefault("detector.targetclass", catset.CatClassID)
	v.SetDefault("detector.threads", 0)

	v.SetDefault("split.train", 0.7)
	v.SetDefault("split.val", 0.2)
	v.SetDefault("split.test", 0.1)
	v.SetDefault("split.seed", 0)

	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.prefix", "catset")
	v.SetDefault("publish.usessl", true)
}
