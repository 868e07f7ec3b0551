package discovery

import (
	p "github.com/IshaanNene/bundlewatch/internal/projector"
)

// ListingFields are kept from every product tile on the landing page.
var ListingFields = p.Keys(
	p.Key("machine_name"),
	p.Key("tile_short_name"),
	p.Key("short_marketing_blurb"),
	p.Key("marketing_blurb"),
	p.Key("detailed_marketing_blurb"),
	p.Key("author"),
	p.Key("start_date"),
	p.Key("end_date"),
	p.Key("type"),
	p.Key("product_url"),
)

// LandingSelection walks category -> mosaic[] -> products[] on the landing payload.
var LandingSelection = p.Each(p.Keys(
	p.Key("mosaic", p.Items(p.Keys(
		p.Key("products", p.Items(ListingFields)),
	))),
))

// ProductSelection is the normalized shape of a bundle detail page.
var ProductSelection = p.Keys(
	p.Key("machine_name"),
	p.Key("author"),
	p.Key("basic_data", p.Keys(
		p.Key("eula"),
		p.Key("human_name"),
		p.Key("detailed_marketing_blurb"),
		p.Key("short_marketing_blurb"),
		p.Key("media_type"),
		p.Key("description"),
		p.Key("legal_disclaimer"),
		p.Key("required_account_links"),
		p.Key("end_time"),
	)),
	p.Key("tier_item_data", p.Each(p.Keys(
		p.Key("human_name"),
		p.Key("machine_name"),
		p.Key("youtube_link"),
		p.Key("callout"),
		p.Key("publishers"),
		p.Key("side_box_art_text"),
		p.Key("third_party_subscribe_text"),
		p.Key("msrp_price"),
		p.Key("min_price"),
		p.Key("subtitle_html"),
		p.Key("description_text"),
		p.Key("user_ratings"),
		p.Key("developers"),
		p.Key("item_content_type"),
	))),
	p.Key("charity_data", p.Keys(
		p.Key("charity_items", p.Each(p.Keys(
			p.Key("machine_name"),
			p.Key("youtube_link"),
			p.Key("item_content_type"),
			p.Key("subtitle_html"),
			p.Key("description_text"),
			p.Key("human_name"),
			p.Key("developers"),
			p.Key("publishers"),
			p.Key("user_ratings"),
		))),
	)),
)
