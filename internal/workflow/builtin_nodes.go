package workflow

// LoaderWidget names a widget slot on a builtin loader class that carries a
// model path, and the pool category that path belongs to.
type LoaderWidget struct {
	Index    int64
	Category string
}

// builtinLoaders maps stock ComfyUI loader classes to their model widgets.
var builtinLoaders = map[string][]LoaderWidget{
	"CheckpointLoaderSimple":   {{Index: 0, Category: "checkpoints"}},
	"CheckpointLoader":         {{Index: 0, Category: "configs"}, {Index: 1, Category: "checkpoints"}},
	"ImageOnlyCheckpointLoader": {{Index: 0, Category: "checkpoints"}},
	"unCLIPCheckpointLoader":   {{Index: 0, Category: "checkpoints"}},
	"VAELoader":                {{Index: 0, Category: "vae"}},
	"LoraLoader":               {{Index: 0, Category: "loras"}},
	"LoraLoaderModelOnly":      {{Index: 0, Category: "loras"}},
	"CLIPLoader":               {{Index: 0, Category: "text_encoders"}},
	"DualCLIPLoader":           {{Index: 0, Category: "text_encoders"}, {Index: 1, Category: "text_encoders"}},
	"TripleCLIPLoader":         {{Index: 0, Category: "text_encoders"}, {Index: 1, Category: "text_encoders"}, {Index: 2, Category: "text_encoders"}},
	"UNETLoader":               {{Index: 0, Category: "diffusion_models"}},
	"ControlNetLoader":         {{Index: 0, Category: "controlnet"}},
	"DiffControlNetLoader":     {{Index: 0, Category: "controlnet"}},
	"CLIPVisionLoader":         {{Index: 0, Category: "clip_vision"}},
	"StyleModelLoader":         {{Index: 0, Category: "style_models"}},
	"UpscaleModelLoader":       {{Index: 0, Category: "upscale_models"}},
	"GLIGENLoader":             {{Index: 0, Category: "gligen"}},
	"HypernetworkLoader":       {{Index: 0, Category: "hypernetworks"}},
	"PhotoMakerLoader":         {{Index: 0, Category: "photomaker"}},
	"DiffusersLoader":          {{Index: 0, Category: "diffusers"}},
}

// builtinNodes is the bundled table of stock ComfyUI node classes. Types in
// neither this set nor builtinLoaders (and not subgraph references) are
// custom and need a package.
var builtinNodes = map[string]bool{
	"KSampler":                      true,
	"KSamplerAdvanced":              true,
	"SamplerCustom":                 true,
	"SamplerCustomAdvanced":         true,
	"CLIPTextEncode":                true,
	"CLIPTextEncodeSDXL":            true,
	"CLIPTextEncodeSDXLRefiner":     true,
	"CLIPSetLastLayer":              true,
	"CLIPMergeSimple":               true,
	"ConditioningAverage":           true,
	"ConditioningCombine":           true,
	"ConditioningConcat":            true,
	"ConditioningSetArea":           true,
	"ConditioningSetAreaPercentage": true,
	"ConditioningSetMask":           true,
	"ConditioningZeroOut":           true,
	"ConditioningSetTimestepRange":  true,
	"ControlNetApply":               true,
	"ControlNetApplyAdvanced":       true,
	"VAEDecode":                     true,
	"VAEDecodeTiled":                true,
	"VAEEncode":                     true,
	"VAEEncodeTiled":                true,
	"VAEEncodeForInpaint":           true,
	"EmptyLatentImage":              true,
	"EmptySD3LatentImage":           true,
	"LatentUpscale":                 true,
	"LatentUpscaleBy":               true,
	"LatentFromBatch":               true,
	"RepeatLatentBatch":             true,
	"LatentComposite":               true,
	"LatentBlend":                   true,
	"LatentRotate":                  true,
	"LatentFlip":                    true,
	"LatentCrop":                    true,
	"SetLatentNoiseMask":            true,
	"LoadImage":                     true,
	"LoadImageMask":                 true,
	"SaveImage":                     true,
	"PreviewImage":                  true,
	"ImageScale":                    true,
	"ImageScaleBy":                  true,
	"ImageUpscaleWithModel":         true,
	"ImageInvert":                   true,
	"ImageBatch":                    true,
	"ImagePadForOutpaint":           true,
	"ImageCompositeMasked":          true,
	"ImageCrop":                     true,
	"ImageBlend":                    true,
	"ImageBlur":                     true,
	"ImageQuantize":                 true,
	"ImageSharpen":                  true,
	"EmptyImage":                    true,
	"MaskComposite":                 true,
	"MaskToImage":                   true,
	"ImageToMask":                   true,
	"ImageColorToMask":              true,
	"SolidMask":                     true,
	"InvertMask":                    true,
	"CropMask":                      true,
	"FeatherMask":                   true,
	"GrowMask":                      true,
	"PorterDuffImageComposite":      true,
	"SplitImageWithAlpha":           true,
	"JoinImageWithAlpha":            true,
	"StyleModelApply":               true,
	"GLIGENTextBoxApply":            true,
	"CLIPVisionEncode":              true,
	"unCLIPConditioning":            true,
	"InpaintModelConditioning":      true,
	"ModelMergeSimple":              true,
	"ModelMergeBlocks":              true,
	"ModelMergeSubtract":            true,
	"ModelMergeAdd":                 true,
	"ModelSamplingDiscrete":         true,
	"ModelSamplingContinuousEDM":    true,
	"ModelSamplingSD3":              true,
	"ModelSamplingFlux":             true,
	"ModelSamplingAuraFlow":         true,
	"FreeU":                         true,
	"FreeU_V2":                      true,
	"PatchModelAddDownscale":        true,
	"RescaleCFG":                    true,
	"PerturbedAttentionGuidance":    true,
	"SelfAttentionGuidance":         true,
	"TomePatchModel":                true,
	"HyperTile":                     true,
	"DifferentialDiffusion":         true,
	"CFGGuider":                     true,
	"BasicGuider":                   true,
	"DualCFGGuider":                 true,
	"BasicScheduler":                true,
	"KarrasScheduler":               true,
	"ExponentialScheduler":          true,
	"PolyexponentialScheduler":      true,
	"SDTurboScheduler":              true,
	"BetaSamplingScheduler":         true,
	"KSamplerSelect":                true,
	"SamplerEulerAncestral":         true,
	"SamplerDPMPP_2M_SDE":           true,
	"SamplerDPMPP_3M_SDE":           true,
	"SamplerDPMPP_SDE":              true,
	"SamplerLMS":                    true,
	"SamplerDPMAdaptative":          true,
	"SplitSigmas":                   true,
	"SplitSigmasDenoise":            true,
	"FlipSigmas":                    true,
	"RandomNoise":                   true,
	"DisableNoise":                  true,
	"AddNoise":                      true,
	"FluxGuidance":                  true,
	"SD_4XUpscale_Conditioning":     true,
	"PhotoMakerEncode":              true,
	"LatentBatchSeedBehavior":       true,
	"PrimitiveNode":                 true,
	"Note":                          true,
	"MarkdownNote":                  true,
	"Reroute":                       true,
	"GetNode":                       true,
	"SetNode":                       true,
	"PreviewAny":                    true,
	"LoadImageOutput":               true,
	"SaveAnimatedWEBP":              true,
	"SaveAnimatedPNG":               true,
	"WebcamCapture":                 true,
	"LoadLatent":                    true,
	"SaveLatent":                    true,
}

// IsBuiltin reports whether a node class ships with stock ComfyUI.
func IsBuiltin(nodeType string) bool {
	if builtinNodes[nodeType] {
		return true
	}
	_, isLoader := builtinLoaders[nodeType]
	return isLoader
}

// LoaderWidgets returns the model-path widget slots for a builtin loader
// class, or nil when the class is not a loader.
func LoaderWidgets(nodeType string) []LoaderWidget {
	return builtinLoaders[nodeType]
}
