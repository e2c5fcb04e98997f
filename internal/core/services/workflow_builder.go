package services

import (
	"fmt"
	"strings"

	"github.com/manthysbr/aule-vton/internal/core/domain"
)

// WorkflowConfig selects the FLUX 2 Klein model files and sampling parameters.
type WorkflowConfig struct {
	UNet           string
	WeightDType    string
	CLIP           string
	CLIPType       string
	CLIPDevice     string
	VAE            string
	Sampler        string
	Steps          int
	CFG            float64
	Megapixels     float64
	UpscaleMethod  string
	FilenamePrefix string
}

// DefaultWorkflowConfig is the distilled 4-step FLUX 2 Klein 9B setup.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		UNet:           "flux-2-klein-9b-fp8.safetensors",
		WeightDType:    "default",
		CLIP:           "qwen_3_8b_fp8mixed.safetensors",
		CLIPType:       "flux2",
		CLIPDevice:     "default",
		VAE:            "flux2-vae.safetensors",
		Sampler:        "euler",
		Steps:          4,
		CFG:            1.0,
		Megapixels:     1.0,
		UpscaleMethod:  "nearest-exact",
		FilenamePrefix: "tryon_output",
	}
}

// Node ids of the try-on workflow.
const (
	NodeUNet            domain.NodeID = "110"
	NodeCLIP            domain.NodeID = "111"
	NodeVAE             domain.NodeID = "113"
	NodeLoadPerson      domain.NodeID = "76"
	NodeLoadGarment     domain.NodeID = "81"
	NodeScalePerson     domain.NodeID = "114"
	NodeScaleGarment    domain.NodeID = "115"
	NodePersonSize      domain.NodeID = "120"
	NodePositive        domain.NodeID = "112"
	NodeNegative        domain.NodeID = "118"
	NodeEncodePerson    domain.NodeID = "vae_encode_person"
	NodeEncodeGarment   domain.NodeID = "vae_encode_garment"
	NodeRefPosPerson    domain.NodeID = "ref_positive_person"
	NodeRefNegPerson    domain.NodeID = "ref_negative_person"
	NodeRefPosGarment   domain.NodeID = "ref_positive_garment"
	NodeRefNegGarment   domain.NodeID = "ref_negative_garment"
	NodeLatent          domain.NodeID = "119"
	NodeNoise           domain.NodeID = "109"
	NodeSamplerSelect   domain.NodeID = "104"
	NodeScheduler       domain.NodeID = "105"
	NodeGuider          domain.NodeID = "106"
	NodeSamplerAdvanced domain.NodeID = "107"
	NodeDecode          domain.NodeID = "108"
	NodeSave            domain.NodeID = "save"
)

// WorkflowBuilder constructs the two-reference-image try-on graph. It performs no I/O.
type WorkflowBuilder struct {
	cfg WorkflowConfig
}

func NewWorkflowBuilder(cfg WorkflowConfig) *WorkflowBuilder {
	def := DefaultWorkflowConfig()
	if cfg.UNet == "" {
		cfg.UNet = def.UNet
	}
	if cfg.WeightDType == "" {
		cfg.WeightDType = def.WeightDType
	}
	if cfg.CLIP == "" {
		cfg.CLIP = def.CLIP
	}
	if cfg.CLIPType == "" {
		cfg.CLIPType = def.CLIPType
	}
	if cfg.CLIPDevice == "" {
		cfg.CLIPDevice = def.CLIPDevice
	}
	if cfg.VAE == "" {
		cfg.VAE = def.VAE
	}
	if cfg.Sampler == "" {
		cfg.Sampler = def.Sampler
	}
	if cfg.Steps <= 0 {
		cfg.Steps = def.Steps
	}
	if cfg.CFG <= 0 {
		cfg.CFG = def.CFG
	}
	if cfg.Megapixels <= 0 {
		cfg.Megapixels = def.Megapixels
	}
	if cfg.UpscaleMethod == "" {
		cfg.UpscaleMethod = def.UpscaleMethod
	}
	if cfg.FilenamePrefix == "" {
		cfg.FilenamePrefix = def.FilenamePrefix
	}
	return &WorkflowBuilder{cfg: cfg}
}

// Build returns a validated graph. modelRef and garmentRef are staged input names.
func (b *WorkflowBuilder) Build(modelRef, garmentRef, prompt string, seed uint32) (*domain.Graph, error) {
	if strings.TrimSpace(modelRef) == "" || strings.TrimSpace(garmentRef) == "" {
		return nil, fmt.Errorf("%w: both image references are required", domain.ErrValidation)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is empty", domain.ErrValidation)
	}

	cfg := b.cfg
	g := domain.NewGraph()
	lit, link, out := domain.Lit, domain.Link, domain.Out

	unet := g.Add(NodeUNet, domain.KindUNETLoader, lit("unet_name", cfg.UNet), lit("weight_dtype", cfg.WeightDType))
	clip := g.Add(NodeCLIP, domain.KindCLIPLoader, lit("clip_name", cfg.CLIP), lit("type", cfg.CLIPType), lit("device", cfg.CLIPDevice))
	vae := g.Add(NodeVAE, domain.KindVAELoader, lit("vae_name", cfg.VAE))

	// Reference image 1 is the person, reference image 2 the garment.
	person := g.Add(NodeLoadPerson, domain.KindLoadImage, lit("image", modelRef))
	garment := g.Add(NodeLoadGarment, domain.KindLoadImage, lit("image", garmentRef))

	scale := func(id, src domain.NodeID) domain.NodeID {
		return g.Add(id, domain.KindImageScaleToTotalPixels,
			link("image", out(src, 0)),
			lit("upscale_method", cfg.UpscaleMethod),
			lit("megapixels", cfg.Megapixels),
			lit("resolution_steps", 1),
		)
	}
	personScaled := scale(NodeScalePerson, person)
	garmentScaled := scale(NodeScaleGarment, garment)
	size := g.Add(NodePersonSize, domain.KindGetImageSize, link("image", out(personScaled, 0)))

	positive := g.Add(NodePositive, domain.KindCLIPTextEncode, link("clip", out(clip, 0)), lit("text", prompt))
	negative := g.Add(NodeNegative, domain.KindConditioningZeroOut, link("conditioning", out(positive, 0)))

	personLatent := g.Add(NodeEncodePerson, domain.KindVAEEncode, link("pixels", out(personScaled, 0)), link("vae", out(vae, 0)))
	posPerson := g.Add(NodeRefPosPerson, domain.KindReferenceLatent, link("conditioning", out(positive, 0)), link("latent", out(personLatent, 0)))
	negPerson := g.Add(NodeRefNegPerson, domain.KindReferenceLatent, link("conditioning", out(negative, 0)), link("latent", out(personLatent, 0)))

	garmentLatent := g.Add(NodeEncodeGarment, domain.KindVAEEncode, link("pixels", out(garmentScaled, 0)), link("vae", out(vae, 0)))
	posGarment := g.Add(NodeRefPosGarment, domain.KindReferenceLatent, link("conditioning", out(posPerson, 0)), link("latent", out(garmentLatent, 0)))
	negGarment := g.Add(NodeRefNegGarment, domain.KindReferenceLatent, link("conditioning", out(negPerson, 0)), link("latent", out(garmentLatent, 0)))

	// Output canvas follows the person photo's geometry.
	latent := g.Add(NodeLatent, domain.KindEmptyFlux2LatentImage,
		link("width", out(size, 0)),
		link("height", out(size, 1)),
		lit("batch_size", 1),
	)
	noise := g.Add(NodeNoise, domain.KindRandomNoise, lit("noise_seed", seed))
	sampler := g.Add(NodeSamplerSelect, domain.KindKSamplerSelect, lit("sampler_name", cfg.Sampler))
	sigmas := g.Add(NodeScheduler, domain.KindFlux2Scheduler,
		lit("steps", cfg.Steps),
		link("width", out(size, 0)),
		link("height", out(size, 1)),
	)
	guider := g.Add(NodeGuider, domain.KindCFGGuider,
		link("model", out(unet, 0)),
		link("positive", out(posGarment, 0)),
		link("negative", out(negGarment, 0)),
		lit("cfg", cfg.CFG),
	)
	sampled := g.Add(NodeSamplerAdvanced, domain.KindSamplerCustomAdvanced,
		link("noise", out(noise, 0)),
		link("guider", out(guider, 0)),
		link("sampler", out(sampler, 0)),
		link("sigmas", out(sigmas, 0)),
		link("latent_image", out(latent, 0)),
	)
	decoded := g.Add(NodeDecode, domain.KindVAEDecode, link("samples", out(sampled, 0)), link("vae", out(vae, 0)))
	save := g.Add(NodeSave, domain.KindSaveImage, link("images", out(decoded, 0)), lit("filename_prefix", cfg.FilenamePrefix))
	g.SetOutput(save)

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("build try-on workflow: %w", err)
	}
	return g, nil
}
